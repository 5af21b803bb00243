package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
)

// abandonGrace is how long a node may take to return after its context is
// done before it is abandoned.
const abandonGrace = time.Second

type nodeResult struct {
	output map[string]any
	err    error
}

// runNode executes a single node under its timeout. Execute runs on its own
// goroutine and is abandoned if it ignores its context. A panic is recovered
// into an error naming the node.
func (e *Executor) runNode(ctx context.Context, def model.Node, node registry.Node, timeout time.Duration, input map[string]any) (map[string]any, error) {
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan nodeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- nodeResult{err: fmt.Errorf("node %s panicked: %v", def.ID, r)}
			}
		}()
		out, err := node.Execute(nodeCtx, input)
		done <- nodeResult{output: out, err: err}
	}()

	var res nodeResult
	select {
	case res = <-done:
	case <-nodeCtx.Done():
		select {
		case res = <-done:
		case <-time.After(abandonGrace):
			res = nodeResult{err: fmt.Errorf("node did not finish: %w", nodeCtx.Err())}
		}
	}

	e.metrics.recordNode(ctx, def.Type, outcome(ctx, res), time.Since(start))
	return res.output, res.err
}

func outcome(ctx context.Context, res nodeResult) string {
	switch {
	case res.err == nil:
		return "success"
	case ctx.Err() != nil:
		return "cancelled"
	case flowerr.IsSoft(res.err):
		return "soft_failure"
	default:
		return "failure"
	}
}
