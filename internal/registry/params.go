package registry

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// DecodeParams decodes a node's params into a typed struct using `param`
// struct tags. Scalars are converted leniently ("5" decodes into an int) and
// duration fields accept Go duration strings.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "param",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// ParseTimeout accepts a Go duration string ("1m30s") or a number of seconds.
func ParseTimeout(raw any) (time.Duration, error) {
	if s, ok := raw.(string); ok {
		d, err := time.ParseDuration(s)
		if err == nil {
			return d, nil
		}
		secs, serr := cast.ToFloat64E(s)
		if serr != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	secs, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative timeout %v", raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
