package decode

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码（默认 true）："123" -> int、1.0 -> int64 等。
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// Map decodes a generic JSON object into T using `json` tags.
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	var out T
	if err := Into(m, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Into decodes m into the struct pointed to by out.
func Into(m map[string]any, out any, opts ...Options) error {
	if m == nil {
		return fmt.Errorf("payload is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			millisToTimeHook(),
			jsonRawStringToMapHook(),
		),
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// JSON decodes raw JSON bytes into out, going through a generic map so
// loosely typed publishers ("42" for a number, epoch millis for a time) still decode.
func JSON(raw []byte, out any, opts ...Options) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is empty")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return Into(m, out, opts...)
}

// floatToIntHook：把 float64 自动转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

var timeType = reflect.TypeOf(time.Time{})

// millisToTimeHook accepts epoch millis or RFC3339 strings for time.Time fields.
func millisToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != timeType {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return time.UnixMilli(int64(v)), nil
		case int64:
			return time.UnixMilli(v), nil
		case string:
			if v == "" {
				return time.Time{}, nil
			}
			return time.Parse(time.RFC3339Nano, v)
		}
		return data, nil
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
