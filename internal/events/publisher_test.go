package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr1hm/civic-issues/internal/models"
)

type recordingSink struct {
	name   string
	err    error
	mu     sync.Mutex
	events []models.IssueEvent
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, ev models.IssueEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) received() []models.IssueEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.IssueEvent(nil), s.events...)
}

func TestPublisher_DeliversToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("broker down")}

	p := NewPublisher(2, 10, a, b)
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		p.Publish(models.IssueEvent{Type: models.EventIssueCreated, Issue: models.Issue{ID: "x"}})
	}
	p.Stop()

	if got := len(a.received()); got != 5 {
		t.Errorf("sink a received %d events, want 5", got)
	}
	// a failing sink must not stop delivery to the others
	if got := len(b.received()); got != 5 {
		t.Errorf("sink b received %d events, want 5", got)
	}
	if !a.closed || !b.closed {
		t.Error("expected sinks to be closed on Stop")
	}
}

func TestPublisher_StampsOccurredAt(t *testing.T) {
	s := &recordingSink{name: "s"}
	p := NewPublisher(1, 1, s)
	p.Start(context.Background())

	p.Publish(models.IssueEvent{Type: models.EventIssueDeleted})
	p.Stop()

	events := s.received()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].OccurredAt == 0 {
		t.Error("expected OccurredAt to be set")
	}
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	s := &recordingSink{name: "s"}
	// not started, so nothing drains the queue
	p := NewPublisher(1, 2, s)

	for i := 0; i < 5; i++ {
		p.Publish(models.IssueEvent{Type: models.EventIssueUpdated})
	}

	p.Start(context.Background())
	p.Stop()

	if got := len(s.received()); got != 2 {
		t.Errorf("expected 2 delivered events, got %d", got)
	}
}

type slowSink struct {
	recordingSink
	gate chan struct{}
}

func (s *slowSink) Send(ctx context.Context, ev models.IssueEvent) error {
	<-s.gate
	return s.recordingSink.Send(ctx, ev)
}

func TestPublisher_StopDrainsBeforeCancel(t *testing.T) {
	s := &slowSink{recordingSink: recordingSink{name: "slow"}, gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPublisher(1, 8, s)
	p.Start(ctx)
	for i := 0; i < 4; i++ {
		p.Publish(models.IssueEvent{Type: models.EventIssueCreated})
	}

	time.AfterFunc(20*time.Millisecond, func() { close(s.gate) })
	p.Stop()
	cancel()

	if got := len(s.received()); got != 4 {
		t.Errorf("expected all 4 queued events delivered, got %d", got)
	}
}

func TestPublisher_BroadcasterSink(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe(nil)

	p := NewPublisher(1, 4, b)
	p.Start(context.Background())
	p.Publish(models.IssueEvent{Type: models.EventIssueVoted, Issue: models.Issue{ID: "v1"}})

	select {
	case ev := <-ch:
		if ev.Issue.ID != "v1" {
			t.Errorf("expected issue v1, got %q", ev.Issue.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	p.Stop()
}

func TestSubject(t *testing.T) {
	if got := Subject("civic.issues", models.EventIssueCreated); got != "civic.issues.issue.created" {
		t.Errorf("unexpected subject %q", got)
	}
}
