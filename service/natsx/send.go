package natsx

import (
	"github.com/nats-io/nats.go"

	"PPresence/tools/errs"
)

const HeaderMsgID = "Nats-Msg-Id"

// ToHeader map -> nats.Header
func ToHeader(h map[string]string) nats.Header {
	if len(h) == 0 {
		return nil
	}
	hd := nats.Header{}
	for k, v := range h {
		hd.Add(k, v)
	}
	return hd
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	// 用 NewMsg 构造更安全
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "publish failed", "subject", subject)
	}
	return nil
}
