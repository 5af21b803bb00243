// Package watch follows a remote execution through the server's Socket.IO
// relay and prints its progress events.
package watch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/progress"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultConnectTimeout bounds the wait for the initial connection.
const DefaultConnectTimeout = 15 * time.Second

// ErrDisconnected is returned when the server drops the connection before a
// terminal event arrives.
var ErrDisconnected = errors.New("disconnected before the execution finished")

// Options configure a Watch call.
type Options struct {
	ServerURL          string
	ExecutionID        string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	Out                io.Writer
}

// Watch connects to the server, subscribes to the execution and prints every
// event to opts.Out until a terminal event arrives, which it returns.
func Watch(ctx context.Context, opts Options) (progress.Event, error) {
	logger := ctxlog.FromContext(ctx).With("server", opts.ServerURL, "executionID", opts.ExecutionID)

	parsedURL, err := url.Parse(opts.ServerURL)
	if err != nil {
		return progress.Event{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return progress.Event{}, fmt.Errorf("server URL %q needs a scheme and host", opts.ServerURL)
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	sockOpts := socket.DefaultOptions()
	sockOpts.SetPath(strings.TrimRight(parsedURL.Path, "/") + "/socket.io")
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sockOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sockOpts)
	client := manager.Socket("/", sockOpts)

	st := newStream(opts.Out)
	defer st.close()
	defer func() {
		logger.Debug("Disconnecting socket client")
		client.Disconnect()
	}()

	client.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected, subscribing.", "sid", client.Id())
		st.markConnected()
		client.Emit("subscribe", opts.ExecutionID)
	})
	client.On(types.EventName("connect_error"), func(errs ...any) {
		st.fail(connectError(errs))
	})
	client.On(types.EventName("disconnect"), func(...any) {
		st.fail(ErrDisconnected)
	})
	client.On(types.EventName("progress"), st.handleProgress)
	client.On(types.EventName("error"), st.handleServerError)

	client.Connect()
	return st.wait(ctx, timeout)
}

func connectError(errs []any) error {
	if len(errs) > 0 {
		if err, ok := errs[0].(error); ok {
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
		return fmt.Errorf("socket.io connection failed: %v", errs[0])
	}
	return errors.New("socket.io connection failed")
}

// decodeEvent converts a Socket.IO payload back into a progress event.
func decodeEvent(data []any) (progress.Event, error) {
	var ev progress.Event
	if len(data) == 0 {
		return ev, errors.New("empty progress payload")
	}
	raw, err := json.Marshal(data[0])
	if err != nil {
		return ev, fmt.Errorf("encode progress payload: %w", err)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decode progress payload: %w", err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("progress payload without a type: %s", raw)
	}
	return ev, nil
}
