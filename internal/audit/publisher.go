package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher fans committed audit entries out to external sinks. In async mode
// entries are queued and delivered by a background goroutine so the ledger's
// hot path never blocks on a slow broker.
type Publisher struct {
	sinks   []Sink
	events  chan Entry
	wg      sync.WaitGroup
	logger  *slog.Logger
	async   bool
	dropped atomic.Int64

	closeOnce sync.Once
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async delivery with the specified buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Entry, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for delivery error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher delivering to sinks. Nil sinks are ignored.
func NewPublisher(sinks []Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for entry := range p.events {
		_ = p.deliver(context.Background(), entry)
	}
}

// Emit hands entry to every sink. In async mode it never blocks: when the
// buffer is full the entry is dropped, counted, and logged.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if len(p.sinks) == 0 {
		return nil
	}
	entry = entry.Clone()
	if !p.async {
		return p.deliver(ctx, entry)
	}
	select {
	case p.events <- entry:
		return nil
	default:
		p.dropped.Add(1)
		if p.logger != nil {
			p.logger.Warn("audit publish buffer full, entry dropped",
				"event_type", entry.Type,
				"event_id", entry.ID,
			)
		}
		return nil
	}
}

// Dropped returns the number of entries discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops the async worker and waits for queued entries to drain.
// Emit must not be called after Close.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.async && p.events != nil {
			close(p.events)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) deliver(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range p.sinks {
		err := s.Publish(ctx, entry)
		if errors.Is(err, ErrSinkSuspended) {
			if p.logger != nil {
				p.logger.Debug("audit sink suspended, entry skipped",
					"event_type", entry.Type,
					"event_id", entry.ID,
				)
			}
			continue
		}
		if err != nil {
			errs = append(errs, err)
			if p.logger != nil {
				p.logger.Error("failed to publish audit entry",
					"error", err,
					"event_type", entry.Type,
					"event_id", entry.ID,
				)
			}
		}
	}
	return errors.Join(errs...)
}
