package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/civic-issues/internal/client"
	"github.com/mr1hm/civic-issues/internal/clock"
	"github.com/mr1hm/civic-issues/internal/fixtures"
	"github.com/mr1hm/civic-issues/internal/format"
	"github.com/mr1hm/civic-issues/internal/health"
	"github.com/mr1hm/civic-issues/internal/models"
)

var ErrStopped = errors.New("sync controller stopped")

type Config struct {
	Debounce   time.Duration
	MaxRetries int
	// RetryBase is the first rate limit backoff; it doubles per retry.
	RetryBase          time.Duration
	ReprobeEnabled     bool
	ReprobeInterval    time.Duration
	ReprobeMaxInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:           500 * time.Millisecond,
		MaxRetries:         3,
		RetryBase:          time.Second,
		ReprobeEnabled:     true,
		ReprobeInterval:    30 * time.Second,
		ReprobeMaxInterval: 5 * time.Minute,
	}
}

type API interface {
	FetchIssues(ctx context.Context, filter models.FilterState, center *models.Coordinate) (*client.IssuePage, error)
	CreateIssue(ctx context.Context, in client.NewIssue) (models.Issue, error)
	UpdateIssue(ctx context.Context, id string, in client.IssueUpdate) (models.Issue, error)
	DeleteIssue(ctx context.Context, id string) error
}

// Locator resolves the user's position; it never fails.
type Locator interface {
	AcquireLocation(ctx context.Context) models.Location
}

type FilterStore interface {
	SaveFilter(ctx context.Context, f models.FilterState) error
}

type Deps struct {
	API      API
	Probe    health.Probe
	Locator  Locator
	Clock    clock.Clock
	Notifier Notifier
	Filters  FilterStore
	// Fallback defaults to the built-in demo dataset.
	Fallback func() []models.Issue
}

// View is what the user sees: the filtered issues plus sync status.
type View struct {
	Mode            Mode
	ServerAvailable health.Availability
	UsingFallback   bool
	Fetching        bool
	RetryCount      int
	LastFetchAt     time.Time
	Filter          models.FilterState
	Location        *models.Location
	Issues          []models.Issue
	Total           int
}

// Settled reports whether the view is final until something changes: the
// server answered, or the demo data is showing.
func (v View) Settled() bool {
	return v.Mode == ModeDegraded || (v.Mode == ModeLive && !v.Fetching)
}

type envelope struct {
	action action
	done   chan struct{}
	state  chan State
}

type Controller struct {
	cfg       Config
	deps      Deps
	reducer   reducer
	debouncer *Debouncer

	inbox   chan envelope
	updates chan View
	stopped chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// owned by the loop goroutine
	state        State
	cancelFetch  context.CancelFunc
	reprobeTimer clock.Timer
}

func NewController(cfg Config, deps Deps, filter models.FilterState) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Fallback == nil {
		deps.Fallback = fixtures.DemoIssues
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(Notice) {})
	}
	if filter.Validate() != nil {
		filter = models.DefaultFilter()
	}

	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		reducer:   reducer{cfg: cfg, fallback: deps.Fallback},
		debouncer: NewDebouncer(deps.Clock, cfg.Debounce),
		inbox:     make(chan envelope, 64),
		updates:   make(chan View, 1),
		stopped:   make(chan struct{}),
	}
	// the display is never empty while the server is probed
	c.state = State{
		Mode:   ModeInit,
		Filter: filter,
		Issues: deps.Fallback(),
	}
	return c
}

// Start runs the loop, resolves the location and probes the server.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		go c.run()

		c.post(actionProbing{})
		c.wg.Add(1)
		go c.bootstrap()
	})
}

func (c *Controller) bootstrap() {
	defer c.wg.Done()

	var loc *models.Location
	if c.deps.Locator != nil {
		l := c.deps.Locator.AcquireLocation(c.ctx)
		loc = &l
	}
	availability := health.Unknown
	if c.deps.Probe != nil {
		availability = c.deps.Probe.CheckHealth(c.ctx)
	}
	slog.Info("server probed", "availability", availability.String())
	c.post(actionBootstrapped{location: loc, availability: availability})
}

// Stop ends the loop and waits for in-flight work.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		// a controller that never started has no loop to wait for
		c.startOnce.Do(func() { close(c.stopped) })
		if c.cancel == nil {
			return
		}
		c.cancel()
		<-c.stopped
		c.debouncer.Cancel()
		c.wg.Wait()
	})
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.ctx.Done():
			if c.cancelFetch != nil {
				c.cancelFetch()
			}
			if c.reprobeTimer != nil {
				c.reprobeTimer.Stop()
			}
			return
		case env := <-c.inbox:
			if env.action != nil {
				c.apply(env.action)
			}
			if env.state != nil {
				env.state <- c.state.clone()
			}
			if env.done != nil {
				close(env.done)
			}
		}
	}
}

func (c *Controller) apply(a action) {
	prev := c.state.Mode
	next, effects := c.reducer.reduce(c.state, a)
	c.state = next
	if prev != next.Mode {
		slog.Info("sync mode changed", "from", prev.String(), "to", next.Mode.String())
	}
	for _, e := range effects {
		c.execute(e)
	}
	c.publish()
}

func (c *Controller) execute(e effect) {
	switch e := e.(type) {
	case effectDebounce:
		c.debouncer.Trigger(func() { c.post(actionDebounceFired{}) })
	case effectCancelDebounce:
		c.debouncer.Cancel()
	case effectFetch:
		if c.cancelFetch != nil {
			c.cancelFetch()
		}
		fctx, cancel := context.WithCancel(c.ctx)
		c.cancelFetch = cancel
		c.wg.Add(1)
		go c.fetch(fctx, e)
	case effectNotify:
		n := e.notice
		if n.Err != nil {
			slog.Warn(n.Message, "kind", n.Kind, "error", n.Err)
		} else {
			slog.Info(n.Message, "kind", n.Kind)
		}
		c.deps.Notifier.Notify(n)
	case effectScheduleReprobe:
		if c.reprobeTimer != nil {
			c.reprobeTimer.Stop()
		}
		slog.Debug("scheduling server re-probe", "after", e.after)
		c.reprobeTimer = c.deps.Clock.AfterFunc(e.after, func() { c.post(actionReprobeDue{}) })
	case effectProbe:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			availability := health.Unknown
			if c.deps.Probe != nil {
				availability = c.deps.Probe.CheckHealth(c.ctx)
			}
			c.post(actionReprobed{availability: availability})
		}()
	case effectSaveFilter:
		if c.deps.Filters == nil {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
		defer cancel()
		if err := c.deps.Filters.SaveFilter(ctx, e.filter); err != nil {
			slog.Warn("failed to persist filter", "error", err)
		}
	}
}

// fetch retries rate limited requests with doubling waits, then reports
// the outcome to the loop.
func (c *Controller) fetch(ctx context.Context, e effectFetch) {
	defer c.wg.Done()

	for attempt := 0; ; attempt++ {
		page, err := c.deps.API.FetchIssues(ctx, e.filter, e.center)
		if err == nil {
			c.post(actionFetchSucceeded{gen: e.gen, issues: page.Issues, at: c.deps.Clock.Now()})
			return
		}
		if errors.Is(err, client.ErrRateLimited) && attempt < c.cfg.MaxRetries {
			delay := c.cfg.RetryBase << attempt
			slog.Info("rate limited, retrying", "attempt", attempt+1, "delay", delay)
			c.post(actionFetchRetrying{gen: e.gen, attempt: attempt + 1})
			if err := c.deps.Clock.Sleep(ctx, delay); err != nil {
				return
			}
			continue
		}
		c.post(actionFetchFailed{gen: e.gen, err: err, attempts: attempt})
		return
	}
}

func (c *Controller) publish() {
	v := c.view(c.state)
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- v:
	default:
	}
}

func (c *Controller) view(s State) View {
	var center *models.Coordinate
	if s.Location != nil {
		coord := s.Location.Coordinate
		center = &coord
	}
	v := View{
		Mode:            s.Mode,
		ServerAvailable: s.ServerAvailable,
		UsingFallback:   s.UsingFallback,
		Fetching:        s.Fetching,
		RetryCount:      s.RetryCount,
		LastFetchAt:     s.LastFetchAt,
		Filter:          s.Filter,
		Issues:          FilterIssues(s.Issues, s.Filter, center),
		Total:           len(s.Issues),
	}
	if s.Location != nil {
		loc := *s.Location
		v.Location = &loc
	}
	return v
}

// post queues an action without waiting for it.
func (c *Controller) post(a action) {
	select {
	case c.inbox <- envelope{action: a}:
	case <-c.stopped:
	}
}

// dispatch queues an action and waits until it and its effects are applied.
func (c *Controller) dispatch(a action) error {
	done := make(chan struct{})
	select {
	case c.inbox <- envelope{action: a, done: done}:
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Controller) current() (State, error) {
	reply := make(chan State, 1)
	select {
	case c.inbox <- envelope{state: reply}:
	case <-c.stopped:
		return State{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.stopped:
		return State{}, ErrStopped
	}
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	s, err := c.current()
	if err != nil {
		return View{}
	}
	return c.view(s)
}

// Updates delivers views as they change. Only the latest view is kept for
// a slow reader.
func (c *Controller) Updates() <-chan View {
	return c.updates
}

func (c *Controller) SetLocation(loc models.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	return c.dispatch(actionLocationChanged{location: loc})
}

func (c *Controller) SetFilter(f models.FilterState) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return c.dispatch(actionFilterChanged{filter: f})
}

func (c *Controller) SetStatus(status models.Status) error {
	return c.updateFilter(func(f *models.FilterState) { f.Status = status })
}

func (c *Controller) SetCategory(category models.Category) error {
	return c.updateFilter(func(f *models.FilterState) { f.Category = category })
}

func (c *Controller) SetRadius(km float64) error {
	return c.updateFilter(func(f *models.FilterState) { f.RadiusKm = km })
}

func (c *Controller) updateFilter(change func(f *models.FilterState)) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	f := s.Filter
	change(&f)
	return c.SetFilter(f)
}

// Refresh fetches now in live mode, or re-probes the server when degraded.
func (c *Controller) Refresh() error {
	return c.dispatch(actionRefresh{})
}

// CreateIssue is applied locally right away when degraded; otherwise the
// store changes only once the server has confirmed.
func (c *Controller) CreateIssue(ctx context.Context, in client.NewIssue) (models.Issue, error) {
	s, err := c.current()
	if err != nil {
		return models.Issue{}, err
	}

	var issue models.Issue
	if s.Mode == ModeDegraded {
		issue, err = localIssue(in, c.deps.Clock.Now())
	} else {
		issue, err = c.deps.API.CreateIssue(ctx, in)
	}
	if err != nil {
		return models.Issue{}, err
	}
	return issue, c.dispatch(actionIssueUpserted{issue: issue})
}

func (c *Controller) UpdateIssue(ctx context.Context, id string, in client.IssueUpdate) (models.Issue, error) {
	s, err := c.current()
	if err != nil {
		return models.Issue{}, err
	}

	var issue models.Issue
	if s.Mode == ModeDegraded {
		existing, ok := findIssue(s.Issues, id)
		if !ok {
			return models.Issue{}, fmt.Errorf("issue %s: %w", id, client.ErrNotFound)
		}
		issue, err = applyUpdate(existing, in, c.deps.Clock.Now())
	} else {
		issue, err = c.deps.API.UpdateIssue(ctx, id, in)
	}
	if err != nil {
		return models.Issue{}, err
	}
	return issue, c.dispatch(actionIssueUpserted{issue: issue})
}

func (c *Controller) DeleteIssue(ctx context.Context, id string) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	if s.Mode == ModeDegraded {
		if _, ok := findIssue(s.Issues, id); !ok {
			return fmt.Errorf("issue %s: %w", id, client.ErrNotFound)
		}
	} else if err := c.deps.API.DeleteIssue(ctx, id); err != nil {
		return err
	}
	return c.dispatch(actionIssueRemoved{id: id})
}

func findIssue(issues []models.Issue, id string) (models.Issue, bool) {
	for _, issue := range issues {
		if issue.ID == id {
			return fixtures.Clone(issue), true
		}
	}
	return models.Issue{}, false
}

func localIssue(in client.NewIssue, now time.Time) (models.Issue, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Issue{}, fmt.Errorf("%w: title is required", client.ErrValidation)
	}
	if _, err := models.ParseCategory(string(in.Category)); err != nil {
		return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
	}
	severity, err := models.ParseSeverity(string(in.Severity))
	if err != nil {
		return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
	}
	if err := in.Location.Coordinate().Validate(); err != nil {
		return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
	}

	images := append([]string{}, in.Images...)
	return models.Issue{
		ID:          "local-" + uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		Status:      models.StatusReported,
		Severity:    severity,
		Location:    in.Location,
		Images:      images,
		Anonymous:   in.Anonymous,
		Reporter:    format.Reporter(in.Anonymous, nil),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func applyUpdate(issue models.Issue, in client.IssueUpdate, now time.Time) (models.Issue, error) {
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return models.Issue{}, fmt.Errorf("%w: title is required", client.ErrValidation)
		}
		issue.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		issue.Description = strings.TrimSpace(*in.Description)
	}
	if in.Category != nil {
		if _, err := models.ParseCategory(string(*in.Category)); err != nil {
			return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
		}
		issue.Category = *in.Category
	}
	if in.Status != nil {
		if _, err := models.ParseStatus(string(*in.Status)); err != nil {
			return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
		}
		issue.Status = *in.Status
	}
	if in.Severity != nil {
		if _, err := models.ParseSeverity(string(*in.Severity)); err != nil {
			return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
		}
		issue.Severity = *in.Severity
	}
	if in.Location != nil {
		if err := in.Location.Coordinate().Validate(); err != nil {
			return models.Issue{}, fmt.Errorf("%w: %v", client.ErrValidation, err)
		}
		issue.Location = *in.Location
	}
	issue.UpdatedAt = now
	return issue, nil
}
