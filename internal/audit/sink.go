package audit

import (
	"context"
	"errors"
)

//go:generate mockgen -source=sink.go -destination=mocks/mocks.go -package=mocks Sink

// Sink receives audit entries after they are committed to the Log.
// Implementations must be safe for concurrent use. Sink failures never fail
// the ledger operation that produced the entry.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}

// ErrSinkSuspended is returned by a sink that is deliberately skipping
// deliveries, such as one behind an open circuit breaker. The Publisher
// does not report it as a delivery failure.
var ErrSinkSuspended = errors.New("audit sink suspended")
