package sink

import (
	"context"
	"fmt"
	"log/slog"

	"zynx/internal/audit"
	"zynx/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while a guarded sink is skipping deliveries.
var ErrCircuitOpen = fmt.Errorf("circuit open: %w", audit.ErrSinkSuspended)

// GuardedSink stops calling an unhealthy broker after repeated failures and
// tries it again once the breaker's cooldown has passed.
type GuardedSink struct {
	next    audit.Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// NewGuardedSink wraps next with breaker. A nil logger uses slog.Default().
func NewGuardedSink(next audit.Sink, breaker *circuit.Breaker, logger *slog.Logger) *GuardedSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedSink{next: next, breaker: breaker, logger: logger}
}

func (s *GuardedSink) Publish(ctx context.Context, entry audit.Entry) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := s.next.Publish(ctx, entry)
	if state, changed := s.breaker.Record(err); changed {
		s.logger.Warn("audit sink circuit state changed",
			"sink", s.breaker.Name(),
			"state", state.String(),
		)
	}
	return err
}

var _ audit.Sink = (*GuardedSink)(nil)
