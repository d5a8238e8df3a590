package natsx

import (
	"context"
)

// Unsubscriber is satisfied by *nats.Subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Transport is one authenticated connection to the pub/sub service.
type Transport interface {
	Identity() string
	State() ConnectionState
	// OnStateChange emits the current state at once, then every transition.
	OnStateChange(fn func(StateChange)) (cancel func())
	Subscribe(subject string, cb func(NatsxMessage)) (Unsubscriber, error)
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
	Close() error
}
