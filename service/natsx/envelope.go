package natsx

import (
	"encoding/json"
	"time"

	"PPresence/tools/decode"
	"PPresence/tools/errs"
)

// Envelope is the wire format of every event on a topic.
type Envelope struct {
	ID       string          `json:"id"`
	Topic    string          `json:"topic,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	Identity string          `json:"identity,omitempty"`
	TS       int64           `json:"ts"`
}

func (e Envelope) Time() time.Time { return time.UnixMilli(e.TS) }

// Decode unmarshals Data into out, tolerating loosely typed publishers.
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return errs.ErrArgs.WrapMsg("event has no data", "event", e.Event)
	}
	return decode.JSON(e.Data, out)
}

// MarshalData encodes a payload; []byte and json.RawMessage pass through.
func MarshalData(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errs.ErrArgs.WrapMsg("payload is not valid json")
		}
		return v, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal payload")
	}
	return b, nil
}

func parseEnvelope(topic string, raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, errs.ErrArgs.WrapMsg("malformed envelope", "err", err)
	}
	if env.Event == "" {
		return env, errs.ErrArgs.WrapMsg("envelope without event")
	}
	env.Topic = topic
	return env, nil
}
