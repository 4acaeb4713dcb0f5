package event

import "time"

// Event is implemented by payloads that carry a type name, used for
// type-filtered subscriptions and per-type metrics.
type Event interface {
	Type() string
	Timestamp() time.Time
}
