// Package engine coordinates calendar synchronization for one account:
// connection setup with retry, per-calendar fan-out, failure attribution,
// snapshot assembly, and the event write path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beekhof/caldav-agenda/internal/caldav"
	"github.com/beekhof/caldav-agenda/internal/icalendar"
	"github.com/beekhof/caldav-agenda/internal/metrics"
	"github.com/beekhof/caldav-agenda/internal/model"
)

// ErrAuthFailed is returned once the engine has entered its terminal
// authentication-failure state. The caller must reconfigure credentials;
// further setup or refresh calls fail fast without network I/O.
var ErrAuthFailed = errors.New("authentication failed, reconfiguration required")

// Connection is the CalDAV session surface the engine drives. The concrete
// implementation is caldav.Client; tests substitute stubs.
type Connection interface {
	Connect(ctx context.Context) error
	DiscoverCalendars(ctx context.Context) ([]model.CalendarRef, error)
	SearchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*ical.Component, error)
	PutEvent(ctx context.Context, calendarID string, cal *ical.Calendar, name string) error
}

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailedAuth
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailedAuth:
		return "failed_auth"
	default:
		return "unknown"
	}
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Account    string              // label used in logs and metrics
	Connection Connection          // required
	Parser     *icalendar.Parser   // required
	DaysToSync int                 // forward sync window, default 7
	Location   *time.Location      // local zone for window boundaries, default time.Local
	Logger     *zap.Logger
	Metrics    *metrics.Sync

	// Setup retry policy; overridable in tests.
	SetupAttempts   int           // default 3
	SetupRetryDelay time.Duration // default 5s
	Now             func() time.Time
}

// Engine owns the synchronization state for a single account. All session
// state lives inside the instance; independent accounts run independent
// engines without interference.
type Engine struct {
	account string
	conn    Connection
	parser  *icalendar.Parser
	log     *zap.Logger
	metrics *metrics.Sync

	daysToSync    int
	loc           *time.Location
	now           func() time.Time
	setupAttempts int
	setupDelay    time.Duration

	setupMu sync.Mutex // serializes setup passes

	mu        sync.Mutex
	state     State
	calendars []model.CalendarRef // discovery order preserved
	snapshot  *model.Snapshot     // last known good, swapped wholesale
	inflight  *refreshCall
}

// New creates an engine from the given options.
func New(opts Options) *Engine {
	e := &Engine{
		account:       opts.Account,
		conn:          opts.Connection,
		parser:        opts.Parser,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		daysToSync:    opts.DaysToSync,
		loc:           opts.Location,
		now:           opts.Now,
		setupAttempts: opts.SetupAttempts,
		setupDelay:    opts.SetupRetryDelay,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.daysToSync <= 0 {
		e.daysToSync = 7
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.setupAttempts <= 0 {
		e.setupAttempts = 3
	}
	if e.setupDelay <= 0 {
		e.setupDelay = 5 * time.Second
	}
	return e
}

// Account returns the account label.
func (e *Engine) Account() string { return e.account }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Snapshot returns the last known good snapshot, or nil before the first
// successful cycle. The snapshot is immutable; callers must not modify it.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Calendars returns the discovered calendars in discovery order.
func (e *Engine) Calendars() []model.CalendarRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	refs := make([]model.CalendarRef, len(e.calendars))
	copy(refs, e.calendars)
	return refs
}

// Setup connects to the server and discovers calendars, retrying generic
// connection failures up to the configured budget with a fixed delay.
// An authentication failure short-circuits the retries and moves the engine
// into its terminal state; every later call fails fast with ErrAuthFailed.
func (e *Engine) Setup(ctx context.Context) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()

	switch e.State() {
	case StateFailedAuth:
		return ErrAuthFailed
	case StateReady:
		return nil
	}
	e.setState(StateConnecting)

	var lastErr error
	for attempt := 1; attempt <= e.setupAttempts; attempt++ {
		err := e.trySetup(ctx)
		if err == nil {
			e.log.Info("caldav setup successful", zap.Int("attempt", attempt))
			e.setState(StateReady)
			return nil
		}
		lastErr = err
		e.log.Warn("caldav setup attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if caldav.IsAuthError(err) {
			e.log.Error("authentication failed, not retrying", zap.Error(err))
			e.setState(StateFailedAuth)
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}

		if attempt < e.setupAttempts {
			e.log.Info("retrying caldav setup", zap.Duration("delay", e.setupDelay))
			select {
			case <-time.After(e.setupDelay):
			case <-ctx.Done():
				e.setState(StateUninitialized)
				return ctx.Err()
			}
		}
	}

	// Recoverable: the engine stays invokable and the next refresh will
	// attempt setup again.
	e.setState(StateUninitialized)
	return fmt.Errorf("caldav setup failed after %d attempts: %w", e.setupAttempts, lastErr)
}

func (e *Engine) trySetup(ctx context.Context) error {
	if err := e.conn.Connect(ctx); err != nil {
		return err
	}
	refs, err := e.conn.DiscoverCalendars(ctx)
	if err != nil {
		return err
	}
	// Discovery replaces the whole calendar set.
	e.mu.Lock()
	e.calendars = refs
	e.mu.Unlock()
	return nil
}

type refreshCall struct {
	done chan struct{}
	snap *model.Snapshot
	err  error
}

// Refresh runs one synchronization cycle and returns the resulting
// snapshot. Cycles are serialized: a call arriving while another is in
// flight waits for and shares that cycle's result instead of starting a
// second network round-trip. The returned error is non-nil only for the
// terminal authentication failure; every other whole-cycle failure is
// absorbed into the last-known-good (or empty) snapshot.
func (e *Engine) Refresh(ctx context.Context) (*model.Snapshot, error) {
	e.mu.Lock()
	if call := e.inflight; call != nil {
		e.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	e.inflight = call
	e.mu.Unlock()

	call.snap, call.err = e.refresh(ctx)

	e.mu.Lock()
	e.inflight = nil
	e.mu.Unlock()
	close(call.done)

	return call.snap, call.err
}

func (e *Engine) refresh(ctx context.Context) (*model.Snapshot, error) {
	if e.State() != StateReady {
		if err := e.Setup(ctx); err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return nil, err
			}
			e.metrics.ObserveRefreshFailure(e.account)
			return e.fallbackSnapshot("setup failed", err), nil
		}
	}

	calendars := e.Calendars()
	windowStart := startOfDay(e.now().In(e.loc))
	windowEnd := windowStart.AddDate(0, 0, e.daysToSync)

	var (
		events          []model.Event
		failed          []string
		parsed, skipped int
	)
	calendarInfo := make(map[string]model.CalendarRef, len(calendars))

	for _, ref := range calendars {
		calendarInfo[ref.ID] = ref

		raw, err := e.conn.SearchEvents(ctx, ref.ID, windowStart, windowEnd)
		if err != nil {
			e.log.Error("failed to fetch events from calendar",
				zap.String("calendar", ref.Name), zap.String("calendar_id", ref.ID), zap.Error(err))
			failed = append(failed, ref.ID)
			continue
		}

		count := 0
		for _, comp := range raw {
			ev, ok := e.parser.Parse(comp, ref.ID, ref.Name)
			if !ok {
				skipped++
				continue
			}
			events = append(events, ev)
			parsed++
			count++
		}
		e.log.Debug("fetched events from calendar",
			zap.String("calendar", ref.Name), zap.Int("events", count))
	}

	// Nothing reachable at all: serve stale data over no data.
	if len(calendars) > 0 && len(failed) == len(calendars) {
		e.metrics.ObserveRefreshFailure(e.account)
		return e.fallbackSnapshot("all calendars failed", nil), nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	snap := &model.Snapshot{
		Events:            events,
		Calendars:         calendarInfo,
		FailedCalendarIDs: failed,
		FetchedAt:         e.now(),
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()

	e.metrics.ObserveRefresh(e.account, len(events), len(failed))
	e.metrics.ObserveParse(e.account, parsed, skipped)
	if len(failed) > 0 {
		e.log.Warn("refresh degraded", zap.Strings("failed_calendars", failed))
	}
	e.log.Info("refresh complete",
		zap.Int("events", len(events)),
		zap.Int("calendars", len(calendarInfo)),
		zap.Int("failed_calendars", len(failed)))

	return snap, nil
}

// fallbackSnapshot implements the serve-stale policy: the previous snapshot
// when one exists, otherwise an empty snapshot. The empty snapshot is not
// cached so the next successful cycle is not shadowed by it.
func (e *Engine) fallbackSnapshot(reason string, err error) *model.Snapshot {
	e.mu.Lock()
	prev := e.snapshot
	e.mu.Unlock()

	if prev != nil {
		e.log.Warn("serving last known good snapshot", zap.String("reason", reason), zap.Error(err))
		return prev
	}
	e.log.Warn("no cached snapshot available, serving empty snapshot",
		zap.String("reason", reason), zap.Error(err))
	return &model.Snapshot{
		Events:    []model.Event{},
		Calendars: map[string]model.CalendarRef{},
		FetchedAt: e.now(),
	}
}

// CreateEvent writes a new event into the given calendar and triggers an
// immediate refresh so the event appears in the next served snapshot.
// The operation is write-then-reread, not transactional: a refresh failure
// after a successful write still reports success.
func (e *Engine) CreateEvent(ctx context.Context, calendarID, title string, start, end time.Time, description, location string) bool {
	ref, found := e.lookupCalendar(calendarID)
	if !found {
		e.log.Error("calendar not found", zap.String("calendar_id", calendarID))
		return false
	}

	uid := uuid.NewString() + "@calagenda"
	cal := icalendar.NewEventCalendar(uid, title, start, end, description, location, e.now())

	if err := e.conn.PutEvent(ctx, ref.ID, cal, uid+".ics"); err != nil {
		e.log.Error("failed to create event",
			zap.String("calendar", ref.Name), zap.String("summary", title), zap.Error(err))
		return false
	}

	e.metrics.ObserveEventCreated(e.account)
	e.log.Info("event created", zap.String("calendar", ref.Name), zap.String("uid", uid))

	if _, err := e.Refresh(ctx); err != nil {
		e.log.Warn("refresh after event creation failed", zap.Error(err))
	}
	return true
}

func (e *Engine) lookupCalendar(calendarID string) (model.CalendarRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ref := range e.calendars {
		if ref.ID == calendarID {
			return ref, true
		}
	}
	return model.CalendarRef{}, false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
