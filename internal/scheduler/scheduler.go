package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/services"
	"LUCID/go-backend/internal/session"
)

// Analyzer performs one analysis request for the window ending at timestamp.
type Analyzer interface {
	Analyze(ctx context.Context, timestamp int, sessionID, driverID string) (models.AnalysisWindowResult, error)
}

// Resetter clears whatever the external store holds for a session.
type Resetter interface {
	ResetSession(ctx context.Context, sessionID string) (int64, error)
}

type EventKind int

const (
	EventCompleted EventKind = iota
	EventFailed
)

// Event is delivered to listeners after a request for the current session
// finished. Listeners run outside the scheduler lock.
type Event struct {
	Kind      EventKind
	SessionID string
	Timestamp int
	Attempts  int
	Result    *models.CachedResult
	Err       error
	Terminal  bool
}

type Listener func(Event)

type Config struct {
	Interval   int // seconds
	MinSamples int
	MaxRetries int
	RetryDelay time.Duration
	DriverID   string
	Debug      bool

	// Now defaults to time.Now.
	Now session.Now
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type ResetResult struct {
	PreviousSessionID string `json:"previous_session_id"`
	SessionID         string `json:"session_id"`
	RowsCleared       int64  `json:"rows_cleared"`
}

type job struct {
	sessionID string
	timestamp int
	attempt   int
}

// Scheduler drives the analysis calls of one session at a time. The tick
// handler and completion handlers are the only mutators of its state.
type Scheduler struct {
	cfg      Config
	analyzer Analyzer
	resetter Resetter
	metrics  *services.Metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup

	mu        sync.Mutex
	clock     *session.Clock
	ledger    *Ledger
	stop      int
	running   bool
	done      chan struct{}
	listeners []Listener
}

func New(cfg Config, analyzer Analyzer, resetter Resetter) *Scheduler {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		analyzer:   analyzer,
		resetter:   resetter,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	s.clock = session.New(cfg.Now())
	s.ledger = NewLedger(s.clock.ID, nil, cfg.MaxRetries)
	return s
}

func (s *Scheduler) UseMetrics(m *services.Metrics) {
	s.metrics = m
}

func (s *Scheduler) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Scheduler) Interval() int { return s.cfg.Interval }

func (s *Scheduler) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.ID
}

func (s *Scheduler) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.StartedAt
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins a fresh session sized for videoDuration seconds (0 when
// unknown). Rows left by the session being replaced are cleared through the
// reset collaborator first; a failure there is logged.
func (s *Scheduler) Start(ctx context.Context, videoDuration float64) (string, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	prev := s.clock.ID
	hadCalls := len(s.ledger.Calls()) > 0
	s.mu.Unlock()

	if s.resetter != nil && hadCalls {
		rows, err := s.resetter.ResetSession(ctx, prev)
		if err != nil {
			log.Printf("[Scheduler] reset of previous session %s failed: %v", prev, err)
		} else if rows > 0 {
			log.Printf("[Scheduler] cleared %d stale rows of session %s", rows, prev)
		}
	}
	// the new session starts once the store is clean
	clock := session.New(s.cfg.Now())

	stop := StopThreshold(videoDuration, s.cfg.Interval, s.cfg.MinSamples)
	schedule := BuildSchedule(s.cfg.Interval, stop)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", ErrAlreadyRunning
	}
	s.clock = clock
	s.ledger = NewLedger(clock.ID, schedule, s.cfg.MaxRetries)
	s.stop = stop
	s.running = true
	s.done = make(chan struct{})

	log.Printf("[Scheduler] session %s started: interval=%ds stop=%ds calls=%v", clock.ID, s.cfg.Interval, stop, schedule)
	return clock.ID, nil
}

// Run ticks once per second until the schedule stops, Stop or Reset is
// called, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNoSession
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-done:
			return nil
		case <-ticker.C:
			s.Tick(s.cfg.Now())
		}
	}
}

// Tick dispatches due calls, redispatches eligible failures and applies the
// stop rule.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	elapsed := s.clock.Elapsed(now)

	var jobs []job
	for _, call := range s.ledger.Calls() {
		switch call.Status {
		case StatusPending:
			if call.Timestamp > elapsed {
				continue
			}
		case StatusFailed:
		default:
			continue
		}
		if j, ok := s.prepareLocked(call.Timestamp, now); ok {
			jobs = append(jobs, j)
		}
	}

	if elapsed >= s.stop && (s.ledger.allCompleted() || elapsed >= s.stop+s.cfg.Interval) {
		completed, failed := s.ledger.counts()
		log.Printf("[Scheduler] session %s stopping at %ds: %d completed, %d failed", s.clock.ID, elapsed, completed, failed)
		s.stopLocked()
	} else if s.cfg.Debug {
		log.Printf("[Scheduler] tick %ds, dispatched %d", elapsed, len(jobs))
	}
	s.mu.Unlock()

	for _, j := range jobs {
		s.launch(j)
	}
}

// Dispatch requests analysis for one scheduled timestamp outside the tick
// loop. A cached result is returned with FromCache set and no request is
// made. Timestamps the current session never scheduled are rejected.
func (s *Scheduler) Dispatch(timestamp int) (models.CachedResult, bool, error) {
	if timestamp <= 0 {
		return models.CachedResult{}, false, fmt.Errorf("%w: %d", ErrUnknownTimestamp, timestamp)
	}
	now := s.cfg.Now()

	s.mu.Lock()
	call, ok := s.ledger.Call(timestamp)
	if !ok {
		s.mu.Unlock()
		return models.CachedResult{}, false, fmt.Errorf("%w: %d (interval %ds, stop %ds)", ErrUnknownTimestamp, timestamp, s.cfg.Interval, s.stop)
	}
	if cached, ok := s.ledger.Cached(timestamp); ok {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncrementCacheHits()
		}
		cached.FromCache = true
		return cached, false, nil
	}
	if call.Terminal(s.cfg.MaxRetries) {
		s.mu.Unlock()
		return models.CachedResult{}, false, fmt.Errorf("%w: t=%d after %d attempts", ErrRetriesExhausted, timestamp, call.Attempts)
	}
	if call.Status == StatusFailed && !s.ledger.eligible(timestamp, now, s.cfg.RetryDelay) {
		s.mu.Unlock()
		return models.CachedResult{}, false, fmt.Errorf("%w: t=%d after %d attempts", ErrRetryPending, timestamp, call.Attempts)
	}
	j, ok := s.prepareLocked(timestamp, now)
	s.mu.Unlock()

	if ok {
		s.launch(j)
	}
	return models.CachedResult{}, ok, nil
}

// prepareLocked flips the call to Processing before any request is issued,
// so two ticks can never dispatch the same timestamp.
func (s *Scheduler) prepareLocked(ts int, now time.Time) (job, bool) {
	if s.ledger.settled(ts) {
		if s.metrics != nil {
			s.metrics.IncrementCacheHits()
		}
		return job{}, false
	}
	if !s.ledger.eligible(ts, now, s.cfg.RetryDelay) {
		return job{}, false
	}
	if err := s.ledger.begin(ts, now); err != nil {
		log.Printf("[Scheduler] %v", err)
		return job{}, false
	}
	call, _ := s.ledger.Call(ts)
	s.inflight.Add(1)
	return job{sessionID: s.ledger.SessionID(), timestamp: ts, attempt: call.Attempts}, true
}

func (s *Scheduler) launch(j job) {
	if s.metrics != nil {
		s.metrics.IncrementDispatches()
		if j.attempt > 1 {
			s.metrics.IncrementRetries()
		}
	}
	go func() {
		defer s.inflight.Done()
		start := time.Now()
		result, err := s.analyzer.Analyze(s.baseCtx, j.timestamp, j.sessionID, s.cfg.DriverID)
		if s.metrics != nil {
			s.metrics.RecordLatency(time.Since(start))
		}
		s.finish(j, result, err)
	}()
}

func (s *Scheduler) finish(j job, result models.AnalysisWindowResult, reqErr error) {
	now := s.cfg.Now()

	s.mu.Lock()
	if s.ledger.SessionID() != j.sessionID {
		s.mu.Unlock()
		log.Printf("[Scheduler] discarding stale completion t=%d from session %s", j.timestamp, j.sessionID)
		if s.metrics != nil {
			s.metrics.IncrementStale()
		}
		return
	}

	ev := Event{SessionID: j.sessionID, Timestamp: j.timestamp, Attempts: j.attempt}
	if reqErr != nil {
		terminal, err := s.ledger.fail(j.timestamp)
		if err != nil {
			s.mu.Unlock()
			log.Printf("[Scheduler] %v", err)
			return
		}
		ev.Kind = EventFailed
		ev.Err = reqErr
		ev.Terminal = terminal
	} else {
		cached, err := s.ledger.complete(j.timestamp, result, now)
		if err != nil {
			s.mu.Unlock()
			log.Printf("[Scheduler] %v", err)
			return
		}
		s.clock.MarkSuccess(now)
		ev.Kind = EventCompleted
		ev.Result = &cached
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if reqErr != nil {
		if s.metrics != nil {
			s.metrics.IncrementErrors()
		}
		if ev.Terminal {
			log.Printf("[Scheduler] t=%d failed permanently after %d attempts: %v", j.timestamp, j.attempt, reqErr)
		} else {
			log.Printf("[Scheduler] t=%d attempt %d failed: %v", j.timestamp, j.attempt, reqErr)
		}
	} else if s.metrics != nil {
		s.metrics.IncrementCompleted()
	}

	for _, l := range listeners {
		l(ev)
	}
}

// Stop halts future dispatch and retries. In-flight requests still finish
// and still land in the ledger.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
}

// Reset stops the schedule, discards the ledger and starts an idle session
// with a new id. Rows of the previous session are cleared through the reset
// collaborator.
func (s *Scheduler) Reset(ctx context.Context) (ResetResult, error) {
	s.mu.Lock()
	s.stopLocked()
	prev := s.clock.ID
	s.clock = session.New(s.cfg.Now())
	s.ledger = NewLedger(s.clock.ID, nil, s.cfg.MaxRetries)
	s.stop = 0
	res := ResetResult{PreviousSessionID: prev, SessionID: s.clock.ID}
	s.mu.Unlock()

	if s.resetter != nil {
		rows, err := s.resetter.ResetSession(ctx, prev)
		if err != nil {
			log.Printf("[Scheduler] reset of session %s failed: %v", prev, err)
		} else {
			res.RowsCleared = rows
		}
	}
	log.Printf("[Scheduler] session %s reset, new session %s", prev, res.SessionID)
	return res, nil
}

func (s *Scheduler) Progress() models.Progress {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := s.ledger.Calls()
	completed, failed := s.ledger.counts()
	p := models.Progress{
		SessionID:     s.clock.ID,
		Completed:     completed,
		Total:         len(calls),
		Failed:        failed,
		StopThreshold: s.stop,
		Running:       s.running,
		Pending:       []models.ScheduledCall{},
	}
	if s.running {
		p.ElapsedSeconds = s.clock.Elapsed(now)
	}
	for _, c := range calls {
		if c.Status != StatusCompleted {
			p.Pending = append(p.Pending, c.View())
		}
	}
	return p
}

func (s *Scheduler) Calls() []ScheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Calls()
}

// Results returns the session's cached results sorted by timestamp.
func (s *Scheduler) Results() []models.CachedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Results()
}

// Wait blocks until every in-flight request has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Close aborts in-flight requests. Only used on process shutdown.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancelBase()
	s.inflight.Wait()
}
