package gateway

import (
	"encoding/json"

	"PPresence/service/natsx"
	"PPresence/tools/errs"
)

// 客户端 -> 网关
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// 网关 -> 客户端
const (
	OpEvent        = "event"
	OpSubscribed   = "subscribed"
	OpUnsubscribed = "unsubscribed"
	OpPong         = "pong"
	OpError        = "error"
)

// Frame is what a browser sends.
type Frame struct {
	Op    string `json:"op"`
	Topic string `json:"topic,omitempty"`
	Event string `json:"event,omitempty"` // 空表示该 topic 的全部事件
}

// Out is what the gateway writes back: deliveries and acks share one shape.
type Out struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
	TS    int64           `json:"ts,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ParseFrame decodes and checks an inbound frame.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, errs.ErrArgs.WrapMsg("bad frame", "err", err.Error())
	}
	switch f.Op {
	case OpPing:
		return f, nil
	case OpSubscribe, OpUnsubscribe:
		if f.Topic == "" {
			return Frame{}, errs.ErrArgs.WrapMsg("topic required", "op", f.Op)
		}
		return f, nil
	default:
		return Frame{}, errs.ErrArgs.WrapMsg("unknown op", "op", f.Op)
	}
}

func deliveryOf(env natsx.Envelope) Out {
	return Out{Op: OpEvent, Topic: env.Topic, Event: env.Event, Data: env.Data, ID: env.ID, TS: env.TS}
}
