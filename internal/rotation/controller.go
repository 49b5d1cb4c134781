package rotation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"broadcast-graphics/onair/internal/models"
)

const (
	DefaultRotationInterval   = 30 * time.Second
	DefaultTransitionDuration = 2400 * time.Millisecond
	DefaultRefreshInterval    = 10 * time.Minute
	DefaultResumeDelay        = 500 * time.Millisecond
	DefaultWatchdogGrace      = 400 * time.Millisecond
	DefaultFetchTimeout       = 30 * time.Second
)

// ErrAlreadyRunning is returned by Run when the controller loop is already active.
var ErrAlreadyRunning = errors.New("rotation: controller already running")

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	Name         string
	InitialItems []models.ContentItem

	RotationInterval   time.Duration
	TransitionDuration time.Duration
	RefreshInterval    time.Duration
	ResumeDelay        time.Duration
	WatchdogGrace      time.Duration
	FetchTimeout       time.Duration

	// RefreshOnStart fetches the source as soon as Run starts instead of
	// waiting for the first refresh tick.
	RefreshOnStart bool
	// KeepOnEmpty ignores successful fetches that return no items, keeping
	// the current working set on screen.
	KeepOnEmpty bool

	Gate   *Gate
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.RotationInterval <= 0 {
		o.RotationInterval = DefaultRotationInterval
	}
	if o.TransitionDuration <= 0 {
		o.TransitionDuration = DefaultTransitionDuration
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.ResumeDelay <= 0 {
		o.ResumeDelay = DefaultResumeDelay
	}
	if o.WatchdogGrace <= 0 {
		o.WatchdogGrace = DefaultWatchdogGrace
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Gate == nil {
		o.Gate = NewGate(nil, 0, o.Clock, o.Logger)
	}
}

// Snapshot is the observable state of a rotator at one point in time.
type Snapshot struct {
	Name          string              `json:"name"`
	Seq           uint64              `json:"seq"`
	Phase         Phase               `json:"phase"`
	Index         int                 `json:"index"`
	Total         int                 `json:"total"`
	Displayable   int                 `json:"displayable"`
	Transitioning bool                `json:"transitioning"`
	Visible       bool                `json:"visible"`
	Item          *models.ContentItem `json:"item"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Empty reports whether the rotator has nothing to show and renders its placeholder.
func (s Snapshot) Empty() bool {
	return s.Item == nil
}

type commandKind int

const (
	cmdVisibility commandKind = iota
	cmdRefresh
)

type command struct {
	kind    commandKind
	visible bool
}

type fetchResult struct {
	items []models.ContentItem
	err   error
}

// Controller drives one rotator: it owns the working set, the current index,
// the transition phase and every timer. All of that state belongs to the Run
// goroutine; other goroutines talk to it through commands and read published
// snapshots.
type Controller struct {
	opts   Options
	source Source
	gate   *Gate
	clock  clockwork.Clock
	logger zerolog.Logger

	outDuration time.Duration
	inDuration  time.Duration

	cmds    chan command
	done    chan struct{}
	running atomic.Bool

	mu      sync.RWMutex
	snap    Snapshot
	subs    map[uint64]chan Snapshot
	nextSub uint64
	closed  bool

	// Owned by the Run goroutine.
	items         []models.ContentItem
	index         int
	phase         Phase
	transitioning bool
	visible       bool
	fetching      bool
	seq           uint64

	rotateTimer clockwork.Timer
	phaseTimer  clockwork.Timer
	watchdog    clockwork.Timer
	gateCh      <-chan struct{}
	gateCancel  context.CancelFunc
}

// New creates a controller over src. The controller is idle until Run is called.
func New(src Source, opts Options) *Controller {
	opts.setDefaults()

	c := &Controller{
		opts:        opts,
		source:      src,
		gate:        opts.Gate,
		clock:       opts.Clock,
		logger:      opts.Logger.With().Str("rotator", opts.Name).Logger(),
		outDuration: opts.TransitionDuration / 2,
		inDuration:  opts.TransitionDuration - opts.TransitionDuration/2,
		cmds:        make(chan command, 16),
		done:        make(chan struct{}),
		subs:        make(map[uint64]chan Snapshot),
		items:       slices.Clone(opts.InitialItems),
		visible:     true,
	}
	c.index = c.resolveIndex(0)
	c.publish()
	return c
}

// Name returns the rotator name.
func (c *Controller) Name() string {
	return c.opts.Name
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow subscribers lose older snapshots, never the
// newest. The channel is closed by the returned cancel func or when Run returns.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	c.mu.Lock()
	ch <- c.snap
	if c.closed {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// SetVisible reports whether the rotator is currently visible to viewers.
// Hiding pauses rotation; showing resumes it after a short delay.
func (c *Controller) SetVisible(visible bool) {
	c.send(command{kind: cmdVisibility, visible: visible})
}

// Refresh asks the controller to fetch its source now.
func (c *Controller) Refresh() {
	c.send(command{kind: cmdRefresh})
}

func (c *Controller) send(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

// Run drives the rotator until ctx is cancelled. Every timer is stopped and
// every subscriber channel closed before it returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.closeSubscribers()
	defer c.stopAll()

	refresh := c.clock.NewTicker(c.opts.RefreshInterval)
	defer refresh.Stop()

	results := make(chan fetchResult, 1)

	c.armRotation(c.opts.RotationInterval)
	c.preloadNext(ctx)
	c.logger.Info().
		Int("items", len(c.items)).
		Dur("interval", c.opts.RotationInterval).
		Msg("Rotator started")
	c.publish()

	if c.opts.RefreshOnStart {
		c.startFetch(ctx, results)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Rotator stopped")
			return ctx.Err()

		case cmd := <-c.cmds:
			c.handle(ctx, cmd, results)

		case <-refresh.Chan():
			c.startFetch(ctx, results)

		case res := <-results:
			c.fetching = false
			c.applyFetch(ctx, res)

		case <-timerC(c.rotateTimer):
			c.rotateTimer = nil
			c.beginTransition()

		case <-timerC(c.phaseTimer):
			c.phaseTimer = nil
			c.advancePhase(ctx)

		case <-c.gateCh:
			c.reveal()

		case <-timerC(c.watchdog):
			c.watchdog = nil
			c.onWatchdog(ctx)
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd command, results chan<- fetchResult) {
	switch cmd.kind {
	case cmdRefresh:
		c.startFetch(ctx, results)
	case cmdVisibility:
		if cmd.visible {
			c.show()
		} else {
			c.hide()
		}
	}
}

// startFetch runs at most one fetch at a time. The result comes back through
// results and is applied on the loop goroutine.
func (c *Controller) startFetch(ctx context.Context, results chan<- fetchResult) {
	if c.fetching {
		c.logger.Debug().Msg("refresh already in flight")
		return
	}
	c.fetching = true

	go func() {
		fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()

		res := c.fetch(fctx)
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) fetch(ctx context.Context) (res fetchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = fetchResult{err: fmt.Errorf("source panicked: %v", r)}
		}
	}()
	items, err := c.source.Fetch(ctx)
	return fetchResult{items: items, err: err}
}

func (c *Controller) applyFetch(ctx context.Context, res fetchResult) {
	if res.err != nil {
		c.logger.Warn().Err(res.err).Msg("refresh failed, keeping current items")
		return
	}
	if len(res.items) == 0 && c.opts.KeepOnEmpty {
		c.logger.Debug().Msg("refresh returned no items, keeping current items")
		return
	}
	c.replace(ctx, res.items)
}

// replace installs a new working set. A running transition is abandoned so
// no phase callback can act on the old list.
func (c *Controller) replace(ctx context.Context, items []models.ContentItem) {
	cancelled := c.transitioning
	if cancelled {
		c.cancelTransition("working set replaced")
	}

	prev := c.index
	c.items = slices.Clone(items)
	c.index = c.resolveIndex(c.index)

	switch {
	case !c.canRotate():
		stopTimer(&c.rotateTimer)
	case cancelled || c.index != prev || c.rotateTimer == nil:
		c.armRotation(c.opts.RotationInterval)
	}

	c.logger.Debug().
		Int("items", len(c.items)).
		Int("displayable", CountDisplayable(c.items)).
		Int("index", c.index).
		Msg("working set replaced")

	c.preloadNext(ctx)
	c.publish()
}

// resolveIndex clamps i into the working set and moves it forward to the
// nearest displayable item.
func (c *Controller) resolveIndex(i int) int {
	n := len(c.items)
	if n == 0 {
		return 0
	}
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	if next := FindNextDisplayable(c.items, i); next >= 0 {
		return next
	}
	return i
}

// canRotate reports whether a transition may start: the working set holds
// more than one item and at least one of them can be shown. With a single
// displayable item the cycle re-reveals that item.
func (c *Controller) canRotate() bool {
	return len(c.items) > 1 && FindNextDisplayable(c.items, 0) >= 0
}

func (c *Controller) armRotation(d time.Duration) {
	stopTimer(&c.rotateTimer)
	if !c.visible || c.transitioning || !c.canRotate() {
		return
	}
	c.rotateTimer = c.clock.NewTimer(d)
}

func (c *Controller) armWatchdog(d time.Duration) {
	stopTimer(&c.watchdog)
	c.watchdog = c.clock.NewTimer(d + c.opts.WatchdogGrace)
}

// beginTransition moves display -> out. It is a no-op while a transition is
// already running.
func (c *Controller) beginTransition() {
	if c.transitioning || !c.visible || !c.canRotate() {
		return
	}
	stopTimer(&c.rotateTimer)

	c.transitioning = true
	c.phase = PhaseOut
	c.phaseTimer = c.clock.NewTimer(c.outDuration)
	c.armWatchdog(c.outDuration)

	c.logger.Debug().Int("index", c.index).Msg("transition out")
	c.publish()
}

func (c *Controller) advancePhase(ctx context.Context) {
	switch c.phase {
	case PhaseOut:
		c.enterReady(ctx)
	case PhaseIn:
		c.finishTransition()
	default:
		c.logger.Warn().Stringer("phase", c.phase).Msg("phase timer fired in unexpected phase")
	}
}

// enterReady moves out -> ready: the next displayable item becomes current
// while hidden and the gate starts waiting for its media.
func (c *Controller) enterReady(ctx context.Context) {
	n := len(c.items)
	next := -1
	if n > 0 {
		next = FindNextDisplayable(c.items, (c.index+1)%n)
	}
	if next < 0 {
		c.cancelTransition("nothing to show")
		c.publish()
		return
	}

	c.index = next
	c.phase = PhaseReady
	c.preloadNext(ctx)

	gctx, cancel := context.WithCancel(ctx)
	c.gateCancel = cancel
	c.gateCh = c.gate.Ready(gctx, c.items[next])
	c.armWatchdog(c.gate.Timeout())

	c.logger.Debug().Int("index", c.index).Msg("transition ready")
	c.publish()
}

// reveal moves ready -> in once the gate fires.
func (c *Controller) reveal() {
	c.releaseGate()
	if c.phase != PhaseReady {
		return
	}

	c.phase = PhaseIn
	c.phaseTimer = c.clock.NewTimer(c.inDuration)
	c.armWatchdog(c.inDuration)

	c.logger.Debug().Int("index", c.index).Msg("transition in")
	c.publish()
}

// finishTransition moves in -> display and restarts the countdown.
func (c *Controller) finishTransition() {
	stopTimer(&c.watchdog)
	c.phase = PhaseDisplay
	c.transitioning = false
	c.armRotation(c.opts.RotationInterval)

	c.logger.Debug().Int("index", c.index).Msg("transition done")
	c.publish()
}

// onWatchdog forces the phase back to display when a transition outlived its
// phase budget. A phase timer or gate that fired at the same time wins.
func (c *Controller) onWatchdog(ctx context.Context) {
	if c.phaseTimer != nil {
		select {
		case <-c.phaseTimer.Chan():
			c.phaseTimer = nil
			c.advancePhase(ctx)
			return
		default:
		}
	}
	if c.gateCh != nil {
		select {
		case <-c.gateCh:
			c.reveal()
			return
		default:
		}
	}
	if !c.transitioning {
		return
	}

	c.logger.Warn().
		Stringer("phase", c.phase).
		Int("index", c.index).
		Msg("transition stuck, forcing display")
	c.cancelTransition("watchdog")
	c.armRotation(c.opts.RotationInterval)
	c.publish()
}

// cancelTransition abandons the running transition and settles on display
// with whatever index is current.
func (c *Controller) cancelTransition(reason string) {
	stopTimer(&c.phaseTimer)
	stopTimer(&c.watchdog)
	c.releaseGate()

	if c.transitioning {
		c.logger.Debug().Str("reason", reason).Stringer("phase", c.phase).Msg("transition cancelled")
	}
	c.phase = PhaseDisplay
	c.transitioning = false
}

func (c *Controller) releaseGate() {
	if c.gateCancel != nil {
		c.gateCancel()
		c.gateCancel = nil
	}
	c.gateCh = nil
}

func (c *Controller) hide() {
	if !c.visible {
		return
	}
	c.visible = false
	stopTimer(&c.rotateTimer)
	if c.transitioning {
		c.cancelTransition("hidden")
	}

	c.logger.Debug().Msg("rotator hidden, rotation paused")
	c.publish()
}

func (c *Controller) show() {
	if c.visible {
		return
	}
	c.visible = true
	c.armRotation(c.opts.ResumeDelay)

	c.logger.Debug().Dur("resume_in", c.opts.ResumeDelay).Msg("rotator visible, rotation resumed")
	c.publish()
}

// preloadNext warms the media of the item that will follow the current one.
func (c *Controller) preloadNext(ctx context.Context) {
	n := len(c.items)
	if n <= 1 {
		return
	}
	next := FindNextDisplayable(c.items, (c.index+1)%n)
	if next < 0 || next == c.index {
		return
	}
	c.gate.Preload(ctx, c.items[next])
}

func (c *Controller) stopAll() {
	stopTimer(&c.rotateTimer)
	stopTimer(&c.phaseTimer)
	stopTimer(&c.watchdog)
	c.releaseGate()
}

func (c *Controller) publish() {
	c.seq++
	snap := Snapshot{
		Name:          c.opts.Name,
		Seq:           c.seq,
		Phase:         c.phase,
		Index:         c.index,
		Total:         len(c.items),
		Displayable:   CountDisplayable(c.items),
		Transitioning: c.transitioning,
		Visible:       c.visible,
		UpdatedAt:     c.clock.Now(),
	}
	if c.index < len(c.items) && c.items[c.index].Displayable() {
		item := c.items[c.index]
		snap.Item = &item
	} else {
		snap.Index = -1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the oldest queued snapshot to make room for the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func timerC(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
