package events

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events"
)

// Transport is the event service of one camera. *onvif.PullPointClient
// implements it.
type Transport interface {
	CreateSubscription(ctx context.Context, lifetime time.Duration) (*onvif.PullPointSubscription, error)
	SetSynchronizationPoint(ctx context.Context, sub *onvif.PullPointSubscription) error
	PullMessages(ctx context.Context, sub *onvif.PullPointSubscription, limit int, timeout time.Duration) (*onvif.PullMessagesResult, error)
	Renew(ctx context.Context, sub *onvif.PullPointSubscription, lifetime time.Duration) (time.Time, error)
	Unsubscribe(ctx context.Context, sub *onvif.PullPointSubscription) error
}

// Manager is the surface consumers of camera events depend on
type Manager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	AddListener(fn func()) (remove func())
	Get(uid string) (Event, bool)
	GetByPlatform(platform string) []Event
	DistinctUIDsByPlatform(platform string) map[string]struct{}
}

var _ Manager = (*Engine)(nil)

// State is the lifecycle state of an Engine
type State int

const (
	StateStopped State = iota
	StateStarting
	StateActive
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// Engine maintains a pull-point subscription on a camera, pulls its
// notifications while listeners are registered and keeps the last known
// value of every event.
//
// Start, Stop, pull ticks and resubscription are serialized, so at most one
// request is outstanding against the camera's subscription at a time.
type Engine struct {
	transport Transport
	cfg       Config
	log       zerolog.Logger
	store     *Store

	// opMu serializes start, stop, pull ticks and restarts
	opMu sync.Mutex
	// unknownTopics is only touched with opMu held
	unknownTopics map[string]struct{}

	mu           sync.Mutex
	state        State
	started      bool
	sub          *onvif.PullPointSubscription
	listeners    listenerRegistry
	polling      bool // a tick is scheduled or running
	pullTimer    *time.Timer
	pullGen      uint64 // bumped whenever pending pulls are cancelled
	cancelPull   context.CancelFunc
	restartTimer *time.Timer
	epoch        uint64 // bumped by Stop
	life         context.Context
	lifeCancel   context.CancelFunc
}

// NewEngine creates a stopped engine pulling from transport
func NewEngine(transport Transport, cfg Config) (*Engine, error) {
	if transport == nil {
		return nil, errors.NotValidf("nil transport")
	}
	cfg = cfg.withDefaults()
	return &Engine{
		transport:     transport,
		cfg:           cfg,
		log:           cfg.Logger.With().Str("source", cfg.SourceID).Logger(),
		store:         NewStore(),
		unknownTopics: make(map[string]struct{}),
	}, nil
}

// Start creates the subscription and primes the store with the camera's
// current event state. An error means the camera's events are unavailable
// for now; the caller decides when to try again.
func (e *Engine) Start(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state != StateStopped {
		state := e.state
		e.mu.Unlock()
		return errors.NotValidf("start while %s", state)
	}
	e.state = StateStarting
	e.life, e.lifeCancel = context.WithCancel(context.Background())
	epoch := e.epoch
	life := e.life
	e.mu.Unlock()

	// Stop aborts a start in progress
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAbort := context.AfterFunc(life, cancel)
	defer stopAbort()

	sub, err := e.subscribe(ctx)
	if err != nil {
		e.abortStart(epoch)
		return errors.Annotate(err, "starting event subscription")
	}

	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	if err := e.synchronize(ctx, sub); err != nil {
		// ctx may be the reason the pull failed; the camera still gets its slot back
		e.unsubscribe(context.WithoutCancel(ctx), sub)
		e.mu.Lock()
		e.sub = nil
		e.mu.Unlock()
		e.abortStart(epoch)
		return errors.Annotate(err, "initial event pull")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		// Stop is waiting on opMu and retires the subscription
		return errors.New("event engine stopped while starting")
	}
	e.started = true
	e.state = StateActive
	if e.listeners.len() > 0 {
		e.schedulePullLocked(e.cfg.FirstPullDelay)
	}

	e.log.Info().
		Str("subscription", sub.Address).
		Time("termination", sub.TerminationTime).
		Int("events", e.store.Len()).
		Msg("Event subscription started")
	return nil
}

func (e *Engine) abortStart(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch == epoch {
		e.state = StateStopped
		e.lifeCancel()
	}
}

// Stop cancels polling, drops all listeners and unsubscribes. It is safe to
// call repeatedly. Unsubscribe failures are ignored, the camera may already
// have discarded the subscription.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.epoch++
	e.started = false
	e.cancelPullLocked()
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	if e.lifeCancel != nil {
		e.lifeCancel()
	}
	e.listeners.clear()
	e.mu.Unlock()

	// Wait for an in-flight tick, restart or start to wind down
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.state = StateStopped
	e.mu.Unlock()

	if sub != nil {
		e.unsubscribe(ctx, sub)
	}

	e.log.Info().Msg("Event subscription stopped")
}

// AddListener registers fn to be called after every successful pull and
// returns a function that unregisters it. Registering while no pull is
// scheduled starts polling. fn runs on the polling goroutine and must not
// call Start or Stop.
func (e *Engine) AddListener(fn func()) (remove func()) {
	e.mu.Lock()
	id := e.listeners.add(fn)
	if e.started && !e.polling {
		e.schedulePullLocked(e.cfg.FirstPullDelay)
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.removeListener(id) })
	}
}

func (e *Engine) removeListener(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.listeners.remove(id) {
		return
	}
	if e.listeners.len() == 0 {
		e.cancelPullLocked()
	}
}

// Get returns the last event stored under uid; false means never seen
func (e *Engine) Get(uid string) (Event, bool) {
	return e.store.Get(uid)
}

// GetByPlatform returns the stored events of a platform
func (e *Engine) GetByPlatform(platform string) []Event {
	return e.store.ByPlatform(platform)
}

// DistinctUIDsByPlatform returns the uids stored for a platform
func (e *Engine) DistinctUIDsByPlatform(platform string) map[string]struct{} {
	return e.store.UIDsByPlatform(platform)
}

// Events returns every stored event
func (e *Engine) Events() []Event {
	return e.store.All()
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Started reports whether Start succeeded and Stop has not been called since
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Polling reports whether a pull is scheduled or in flight
func (e *Engine) Polling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.polling
}

func (e *Engine) schedulePullLocked(delay time.Duration) {
	if e.polling {
		return
	}
	e.polling = true
	gen := e.pullGen
	e.pullTimer = time.AfterFunc(delay, func() { e.tick(gen) })
}

// cancelPullLocked stops the scheduled tick and aborts a pull in flight.
// A timer that already fired finds its generation stale and does nothing.
func (e *Engine) cancelPullLocked() {
	e.pullGen++
	e.polling = false
	if e.pullTimer != nil {
		e.pullTimer.Stop()
		e.pullTimer = nil
	}
	if e.cancelPull != nil {
		e.cancelPull()
		e.cancelPull = nil
	}
}

// endTickLocked marks the loop idle unless the tick was cancelled meanwhile
func (e *Engine) endTickLocked(gen uint64) {
	if gen == e.pullGen {
		e.polling = false
	}
}

func (e *Engine) tick(gen uint64) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if gen != e.pullGen || !e.started {
		e.mu.Unlock()
		return
	}
	e.pullTimer = nil

	if !e.cfg.Ready() {
		// Keep the slot; try again once the host is up
		e.polling = false
		e.schedulePullLocked(e.cfg.PollInterval)
		e.mu.Unlock()
		return
	}

	sub := e.sub
	if sub == nil {
		// A restart is pending and resumes polling when it succeeds
		e.endTickLocked(gen)
		e.mu.Unlock()
		return
	}

	life := e.life
	ctx, cancel := context.WithTimeout(life, e.cfg.PullTimeout+e.cfg.RequestTimeout)
	e.cancelPull = cancel
	e.mu.Unlock()

	result, err := e.transport.PullMessages(ctx, sub, e.cfg.MessageLimit, e.cfg.PullTimeout)
	cancel()

	e.mu.Lock()
	stale := gen != e.pullGen || !e.started
	if !stale {
		e.cancelPull = nil
	}
	e.mu.Unlock()
	if stale {
		e.log.Debug().Msg("Pull cancelled")
		return
	}

	if err != nil {
		e.mu.Lock()
		e.endTickLocked(gen)
		e.mu.Unlock()

		if onvif.IsTransient(err) {
			e.log.Warn().Err(err).Msg("Failed to pull events, the camera may have restarted; resubscribing")
			e.restart(life)
			return
		}
		e.log.Error().Err(err).Msg("Unexpected error pulling events; polling halted")
		return
	}

	if e.needsRenewal(result) {
		e.renew(life, sub)
	}

	e.process(result.Messages)
	e.notify()

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.pullGen || !e.started {
		return
	}
	e.polling = false
	if e.listeners.len() > 0 {
		e.schedulePullLocked(e.cfg.PollInterval)
	}
}

// restart replaces the subscription after a transport failure. On failure
// it schedules itself again after the cooldown, until it succeeds or Stop
// is called. Callers hold opMu.
func (e *Engine) restart(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.state = StateRestarting
	old := e.sub
	e.sub = nil
	e.mu.Unlock()

	if old != nil {
		e.unsubscribe(context.WithoutCancel(ctx), old)
	}

	sub, err := e.subscribe(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		if !e.started {
			return
		}
		e.log.Warn().Err(err).Dur("retry_in", e.cfg.RestartCooldown).Msg("Failed to resubscribe to events")
		e.scheduleRestartLocked(e.cfg.RestartCooldown)
		return
	}

	// Stopped meanwhile: Stop retires the new subscription once opMu is released
	e.sub = sub
	if !e.started {
		return
	}
	e.state = StateActive
	e.log.Info().Str("subscription", sub.Address).Msg("Event subscription restored")
	if e.listeners.len() > 0 {
		e.schedulePullLocked(e.cfg.PollInterval)
	}
}

func (e *Engine) scheduleRestartLocked(delay time.Duration) {
	epoch := e.epoch
	e.restartTimer = time.AfterFunc(delay, func() { e.retryRestart(epoch) })
}

func (e *Engine) retryRestart(epoch uint64) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if epoch != e.epoch || !e.started {
		e.mu.Unlock()
		return
	}
	e.restartTimer = nil
	life := e.life
	e.mu.Unlock()

	e.restart(life)
}

func (e *Engine) subscribe(ctx context.Context) (*onvif.PullPointSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	sub, err := e.transport.CreateSubscription(ctx, e.cfg.SubscriptionLifetime)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return sub, nil
}

func (e *Engine) unsubscribe(ctx context.Context, sub *onvif.PullPointSubscription) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	if err := e.transport.Unsubscribe(ctx, sub); err != nil {
		e.log.Debug().Err(err).Str("subscription", sub.Address).Msg("Unsubscribe failed")
	}
}

// synchronize pulls the current state of every property event into the store
func (e *Engine) synchronize(ctx context.Context, sub *onvif.PullPointSubscription) error {
	syncCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	if err := e.transport.SetSynchronizationPoint(syncCtx, sub); err != nil {
		e.log.Debug().Err(err).Msg("Camera did not accept a synchronization point")
	}
	cancel()

	pullCtx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout+e.cfg.RequestTimeout)
	defer cancel()
	result, err := e.transport.PullMessages(pullCtx, sub, e.cfg.MessageLimit, e.cfg.SyncTimeout)
	if err != nil {
		return errors.Trace(err)
	}
	e.process(result.Messages)
	return nil
}

func (e *Engine) needsRenewal(result *onvif.PullMessagesResult) bool {
	if result.TerminationTime.IsZero() {
		return false
	}
	// Compare against the camera's clock when it reports one
	now := result.CurrentTime
	if now.IsZero() {
		now = time.Now()
	}
	return result.TerminationTime.Sub(now) < e.cfg.RenewalThreshold
}

// renew extends the subscription. Failures are only logged; if the
// subscription lapses the next pull fails and triggers a restart.
func (e *Engine) renew(ctx context.Context, sub *onvif.PullPointSubscription) {
	if sub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	termination, err := e.transport.Renew(ctx, sub, e.cfg.SubscriptionLifetime)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to renew event subscription")
		return
	}
	e.log.Debug().Time("termination", termination).Msg("Event subscription renewed")
}

// process decodes a pulled batch and applies it to the store in one step
func (e *Engine) process(messages []onvif.NotificationMessage) {
	batch := make([]Event, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if msg.Topic == "" {
			continue
		}

		decode, ok := e.cfg.Registry.Lookup(msg.Topic)
		if !ok {
			if _, seen := e.unknownTopics[msg.Topic]; !seen {
				e.unknownTopics[msg.Topic] = struct{}{}
				e.log.Info().
					Str("topic", msg.Topic).
					Interface("message", msg).
					Msg("No registered handler for event")
			}
			continue
		}

		event, err := decode(e.cfg.SourceID, msg)
		if err == nil && event == nil {
			err = errors.New("decoder returned no event")
		}
		if err != nil {
			e.log.Warn().Err(err).Str("topic", msg.Topic).Msg("Unable to parse event")
			if e.cfg.AbortBatchOnDecodeError {
				break
			}
			continue
		}
		batch = append(batch, *event)
	}
	e.store.PutAll(batch)
}

// notify calls every listener in registration order. A panicking listener
// is logged and does not affect the others.
func (e *Engine) notify() {
	e.mu.Lock()
	fns := e.listeners.snapshot()
	e.mu.Unlock()

	for _, fn := range fns {
		e.invoke(fn)
	}
}

func (e *Engine) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("Event listener failed")
		}
	}()
	fn()
}
