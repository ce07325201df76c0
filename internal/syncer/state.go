// Package syncer keeps the client's view of nearby issues in step with the
// server, and falls back to the demo dataset when the server is away.
//
// All state lives in State and changes only by reducing actions on the
// controller's loop goroutine. The reducer is pure: it returns the next
// state plus the effects (timers, fetches, probes, notices) the controller
// must carry out.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/civic-issues/internal/client"
	"github.com/mr1hm/civic-issues/internal/health"
	"github.com/mr1hm/civic-issues/internal/models"
)

type Mode int

const (
	ModeInit Mode = iota
	ModeProbing
	ModeLive
	ModeDegraded
)

func (m Mode) String() string {
	switch m {
	case ModeProbing:
		return "probing"
	case ModeLive:
		return "live"
	case ModeDegraded:
		return "degraded"
	default:
		return "init"
	}
}

// State is the controller's whole state. Issues is the unfiltered issue
// store; views apply the filter on the way out.
type State struct {
	Mode            Mode
	ServerAvailable health.Availability
	UsingFallback   bool
	RetryCount      int
	LastFetchAt     time.Time
	Filter          models.FilterState
	Location        *models.Location
	Issues          []models.Issue
	Generation      uint64
	Fetching        bool
	ReprobeDelay    time.Duration
}

func (s State) clone() State {
	s.Issues = append([]models.Issue(nil), s.Issues...)
	if s.Location != nil {
		loc := *s.Location
		s.Location = &loc
	}
	return s
}

type NoticeKind string

const (
	NoticeRateLimited NoticeKind = "rate_limited"
	NoticeOffline     NoticeKind = "offline"
	NoticeError       NoticeKind = "error"
	NoticeRecovered   NoticeKind = "recovered"
)

type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type action interface{ isAction() }

type actionProbing struct{}

type actionBootstrapped struct {
	location     *models.Location
	availability health.Availability
}

type actionLocationChanged struct{ location models.Location }

type actionFilterChanged struct{ filter models.FilterState }

type actionDebounceFired struct{}

type actionRefresh struct{}

type actionFetchRetrying struct {
	gen     uint64
	attempt int
}

type actionFetchSucceeded struct {
	gen    uint64
	issues []models.Issue
	at     time.Time
}

type actionFetchFailed struct {
	gen      uint64
	err      error
	attempts int
}

type actionReprobeDue struct{}

type actionReprobed struct{ availability health.Availability }

type actionIssueUpserted struct{ issue models.Issue }

type actionIssueRemoved struct{ id string }

func (actionProbing) isAction()         {}
func (actionBootstrapped) isAction()    {}
func (actionLocationChanged) isAction() {}
func (actionFilterChanged) isAction()   {}
func (actionDebounceFired) isAction()   {}
func (actionRefresh) isAction()         {}
func (actionFetchRetrying) isAction()   {}
func (actionFetchSucceeded) isAction()  {}
func (actionFetchFailed) isAction()     {}
func (actionReprobeDue) isAction()      {}
func (actionReprobed) isAction()        {}
func (actionIssueUpserted) isAction()   {}
func (actionIssueRemoved) isAction()    {}

type effect interface{ isEffect() }

type effectDebounce struct{}

type effectCancelDebounce struct{}

type effectFetch struct {
	gen    uint64
	filter models.FilterState
	center *models.Coordinate
}

type effectNotify struct{ notice Notice }

type effectScheduleReprobe struct{ after time.Duration }

type effectProbe struct{}

type effectSaveFilter struct{ filter models.FilterState }

func (effectDebounce) isEffect()        {}
func (effectCancelDebounce) isEffect()  {}
func (effectFetch) isEffect()           {}
func (effectNotify) isEffect()          {}
func (effectScheduleReprobe) isEffect() {}
func (effectProbe) isEffect()           {}
func (effectSaveFilter) isEffect()      {}

type reducer struct {
	cfg      Config
	fallback func() []models.Issue
}

func (r reducer) reduce(s State, a action) (State, []effect) {
	switch a := a.(type) {
	case actionProbing:
		s.Mode = ModeProbing
		return s, nil

	case actionBootstrapped:
		// a location set while probing is newer than the acquired one
		if a.location != nil && s.Location == nil {
			loc := *a.location
			s.Location = &loc
		}
		s.ServerAvailable = a.availability
		if a.availability == health.Unavailable {
			return r.degrade(s, Notice{Kind: NoticeOffline, Message: "server unavailable, showing demo data"})
		}
		// Unknown is optimistic: the first fetch decides.
		s.Mode = ModeLive
		return r.startFetch(s)

	case actionLocationChanged:
		loc := a.location
		s.Location = &loc
		if s.Mode == ModeLive {
			return s, []effect{effectDebounce{}}
		}
		return s, nil

	case actionFilterChanged:
		s.Filter = a.filter
		effects := []effect{effectSaveFilter{filter: a.filter}}
		if s.Mode == ModeLive {
			effects = append(effects, effectDebounce{})
		}
		return s, effects

	case actionDebounceFired:
		if s.Mode != ModeLive {
			return s, nil
		}
		return r.startFetch(s)

	case actionRefresh:
		switch s.Mode {
		case ModeLive:
			next, effects := r.startFetch(s)
			return next, append([]effect{effectCancelDebounce{}}, effects...)
		case ModeDegraded:
			return s, []effect{effectProbe{}}
		}
		return s, nil

	case actionFetchRetrying:
		if a.gen != s.Generation {
			return s, nil
		}
		s.RetryCount = a.attempt
		return s, nil

	case actionFetchSucceeded:
		if a.gen != s.Generation || s.Mode != ModeLive {
			return s, nil
		}
		s.Issues = a.issues
		s.Fetching = false
		s.RetryCount = 0
		s.LastFetchAt = a.at
		s.ServerAvailable = health.Available
		s.UsingFallback = false
		return s, nil

	case actionFetchFailed:
		if a.gen != s.Generation || s.Mode != ModeLive {
			return s, nil
		}
		s.Fetching = false
		return r.fetchFailed(s, a)

	case actionReprobeDue:
		if s.Mode != ModeDegraded {
			return s, nil
		}
		return s, []effect{effectProbe{}}

	case actionReprobed:
		if s.Mode != ModeDegraded {
			return s, nil
		}
		if a.availability == health.Available {
			s.Mode = ModeLive
			s.ServerAvailable = health.Available
			s.ReprobeDelay = 0
			next, effects := r.startFetch(s)
			notice := effectNotify{notice: Notice{Kind: NoticeRecovered, Message: "server is back, loading live data"}}
			return next, append([]effect{notice}, effects...)
		}
		if !r.cfg.ReprobeEnabled {
			return s, nil
		}
		s.ReprobeDelay = r.nextReprobeDelay(s.ReprobeDelay)
		return s, []effect{effectScheduleReprobe{after: s.ReprobeDelay}}

	case actionIssueUpserted:
		for i := range s.Issues {
			if s.Issues[i].ID == a.issue.ID {
				issues := append([]models.Issue(nil), s.Issues...)
				issues[i] = a.issue
				s.Issues = issues
				return s, nil
			}
		}
		s.Issues = append([]models.Issue{a.issue}, s.Issues...)
		return s, nil

	case actionIssueRemoved:
		issues := make([]models.Issue, 0, len(s.Issues))
		for _, issue := range s.Issues {
			if issue.ID != a.id {
				issues = append(issues, issue)
			}
		}
		s.Issues = issues
		return s, nil
	}
	return s, nil
}

func (r reducer) startFetch(s State) (State, []effect) {
	s.Generation++
	s.Fetching = true
	s.RetryCount = 0
	var center *models.Coordinate
	if s.Location != nil {
		c := s.Location.Coordinate
		center = &c
	}
	return s, []effect{effectFetch{gen: s.Generation, filter: s.Filter, center: center}}
}

func (r reducer) fetchFailed(s State, a actionFetchFailed) (State, []effect) {
	switch {
	case errors.Is(a.err, context.Canceled):
		return s, nil
	case errors.Is(a.err, client.ErrRateLimited):
		// keep the last good data
		s.RetryCount = a.attempts
		return s, []effect{effectNotify{notice: Notice{Kind: NoticeRateLimited, Message: "too many requests, showing last results", Err: a.err}}}
	case errors.Is(a.err, client.ErrValidation):
		return s, []effect{effectNotify{notice: Notice{Kind: NoticeError, Message: "the server rejected the search", Err: a.err}}}
	case errors.Is(a.err, client.ErrNotFound), errors.Is(a.err, client.ErrNetworkUnavailable):
		return r.degrade(s, Notice{Kind: NoticeOffline, Message: "server unreachable, showing demo data", Err: a.err})
	default:
		return r.degrade(s, Notice{Kind: NoticeError, Message: "unexpected server response, showing demo data", Err: a.err})
	}
}

func (r reducer) degrade(s State, n Notice) (State, []effect) {
	s.Mode = ModeDegraded
	s.ServerAvailable = health.Unavailable
	s.UsingFallback = true
	s.Fetching = false
	s.Issues = r.fallback()
	effects := []effect{effectCancelDebounce{}, effectNotify{notice: n}}
	if r.cfg.ReprobeEnabled {
		s.ReprobeDelay = r.cfg.ReprobeInterval
		effects = append(effects, effectScheduleReprobe{after: s.ReprobeDelay})
	}
	return s, effects
}

func (r reducer) nextReprobeDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return r.cfg.ReprobeInterval
	}
	d *= 2
	if d > r.cfg.ReprobeMaxInterval {
		d = r.cfg.ReprobeMaxInterval
	}
	return d
}
