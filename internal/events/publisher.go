// Package events publishes issue changes to the SSE broadcaster and to any
// configured message brokers.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mr1hm/civic-issues/internal/metrics"
	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/worker"
)

type Sink interface {
	Name() string
	Send(ctx context.Context, ev models.IssueEvent) error
}

type Publisher struct {
	sinks []Sink
	pool  *worker.WorkerPool[models.IssueEvent]
}

func NewPublisher(workers, buffer int, sinks ...Sink) *Publisher {
	p := &Publisher{sinks: sinks}
	p.pool = worker.NewWorkerPool("events", workers, buffer, p.deliver)
	return p
}

func (p *Publisher) Start(ctx context.Context) {
	p.pool.Start(ctx)
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	slog.Info("event publisher started", "sinks", names)
}

// Publish queues an event without blocking the request path. Events are
// dropped when the queue is full.
func (p *Publisher) Publish(ev models.IssueEvent) {
	if ev.OccurredAt == 0 {
		ev.OccurredAt = time.Now().UnixMilli()
	}
	if !p.pool.TrySubmit(ev) {
		metrics.EventsDropped.Inc()
		slog.Warn("event queue full, dropping event", "type", ev.Type, "issue_id", ev.Issue.ID)
	}
}

func (p *Publisher) deliver(ctx context.Context, ev models.IssueEvent) error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Send(ctx, ev); err != nil {
			metrics.EventsPublished.WithLabelValues(s.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(s.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// Stop drains queued events and closes the sinks. Events still queued when
// the Start context is cancelled are dropped, so call Stop first.
func (p *Publisher) Stop() {
	p.pool.Stop()
	for _, s := range p.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Error("error closing event sink", "sink", s.Name(), "error", err)
			}
		}
	}
	slog.Info("event publisher stopped")
}
