package natsx

import (
	"context"
	"time"
)

// Publisher is satisfied by *Registry.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) Publish(ctx context.Context, topic, event string, payload any) error {
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.Publish(ctx, topic, event, payload)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
