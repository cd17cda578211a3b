package client

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/models"
)

// State of the push channel as seen by the reconciler.
type State int

const (
	StateConnecting State = iota
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	pingFrame = []byte("ping")
	pongFrame = []byte("pong")

	errStale = errors.New("push channel stale")
)

type Config struct {
	MaxPoints          int
	DayOffset          time.Duration
	ConnectTimeout     time.Duration
	DialTimeout        time.Duration
	HeartbeatInterval  time.Duration
	StaleTimeout       time.Duration
	ResyncDebounce     time.Duration
	FastPollInterval   time.Duration
	FastPollLimit      int
	FullReloadInterval time.Duration
	FullReloadLimit    int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPoints:          200,
		DayOffset:          7 * time.Hour,
		ConnectTimeout:     2 * time.Second,
		DialTimeout:        10 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleTimeout:       25 * time.Second,
		ResyncDebounce:     250 * time.Millisecond,
		FastPollInterval:   time.Second,
		FastPollLimit:      5,
		FullReloadInterval: 30 * time.Second,
		FullReloadLimit:    300,
		BackoffInitial:     DefaultBackoffInitial,
		BackoffMax:         DefaultBackoffMax,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPoints <= 0 {
		c.MaxPoints = d.MaxPoints
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = d.StaleTimeout
	}
	if c.ResyncDebounce <= 0 {
		c.ResyncDebounce = d.ResyncDebounce
	}
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = d.FastPollInterval
	}
	if c.FastPollLimit <= 0 {
		c.FastPollLimit = d.FastPollLimit
	}
	if c.FullReloadInterval <= 0 {
		c.FullReloadInterval = d.FullReloadInterval
	}
	if c.FullReloadLimit <= 0 {
		c.FullReloadLimit = d.FullReloadLimit
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	return c
}

type EventKind string

const (
	EventStateChanged       EventKind = "state_changed"
	EventReconnectScheduled EventKind = "reconnect_scheduled"
	EventSessionReset       EventKind = "session_reset"
	EventFetchFailed        EventKind = "fetch_failed"
)

// Event is reported to OnEvent from the reconciler's loop goroutine.
type Event struct {
	Kind  EventKind
	State State
	Delay time.Duration
	Err   error
}

// Snapshot is a consistent copy of the view.
type Snapshot struct {
	State  State
	Points []Point
	Stats  Stats
}

type fetchKind int

const (
	fetchPoll fetchKind = iota
	fetchReload
)

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

type inbound struct {
	gen  uint64
	data []byte
}

type closed struct {
	gen uint64
	err error
}

type fetched struct {
	kind  fetchKind
	since uint64
	shots []models.Shot
	err   error
}

type pushed struct {
	seq   uint64
	point Point
}

// Reconciler keeps a PointBuffer in sync with the server. A single goroutine
// (Run) owns every timer and the connection; network calls run in helper
// goroutines that report back over a channel.
type Reconciler struct {
	cfg     Config
	fetcher Fetcher
	dialer  Dialer

	// OnEvent and OnChange are called from the Run goroutine and must not block.
	OnEvent  func(Event)
	OnChange func(Snapshot)

	mu    sync.Mutex
	state State
	buf   *PointBuffer
	stats Stats

	sf      singleflight.Group
	backoff *backoff.ExponentialBackOff
	events  chan any

	gen       uint64
	conn      Conn
	connectT  *time.Timer
	backoffT  *time.Timer
	staleT    *time.Timer
	debounceT *time.Timer
	heartbeat *time.Ticker
	poll      *time.Ticker
	pushSeq   uint64
	pushes    []pushed
}

func New(cfg Config, fetcher Fetcher, dialer Dialer) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:     cfg,
		fetcher: fetcher,
		dialer:  dialer,
		buf:     NewPointBuffer(cfg.MaxPoints),
		backoff: NewReconnectBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		events:  make(chan any, 64),
	}
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{State: r.state, Points: r.buf.Points(), Stats: r.stats}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run fetches an initial snapshot, then drives the push channel until ctx is
// done. It returns ctx.Err().
func (r *Reconciler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.teardown()

	r.fetch(ctx, fetchReload)
	r.connect(ctx)

	reload := time.NewTicker(r.cfg.FullReloadInterval)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			r.handle(ctx, ev)
		case <-timerC(r.connectT):
			r.connectT = nil
			// The dial stays in flight; a late success still goes live.
			if r.state == StateConnecting {
				r.setState(StateReconnecting)
			}
		case <-timerC(r.backoffT):
			r.backoffT = nil
			r.connect(ctx)
		case <-timerC(r.staleT):
			r.staleT = nil
			r.dropConn(ctx, errStale)
		case <-tickerC(r.heartbeat):
			if err := r.conn.WriteMessage(pingFrame); err != nil {
				r.dropConn(ctx, err)
			}
		case <-timerC(r.debounceT):
			r.debounceT = nil
			r.fetch(ctx, fetchReload)
		case <-tickerC(r.poll):
			r.fetch(ctx, fetchPoll)
		case <-reload.C:
			r.fetch(ctx, fetchReload)
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case dialResult:
		r.onDial(ctx, ev)
	case inbound:
		r.onInbound(ev)
	case closed:
		if ev.gen == r.gen && r.conn != nil {
			r.dropConn(ctx, ev.err)
		}
	case fetched:
		r.onFetched(ev)
	}
}

func (r *Reconciler) connect(ctx context.Context) {
	r.gen++
	gen := r.gen
	r.setState(StateConnecting)
	r.startPoll(ctx, false)
	stopTimer(&r.connectT)
	r.connectT = time.NewTimer(r.cfg.ConnectTimeout)

	go func() {
		dctx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
		defer cancel()
		conn, err := r.dialer.Dial(dctx)
		if !r.send(ctx, dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (r *Reconciler) onDial(ctx context.Context, res dialResult) {
	if res.gen != r.gen {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	stopTimer(&r.connectT)
	if res.err != nil {
		r.scheduleReconnect(ctx, res.err)
		return
	}

	r.conn = res.conn
	r.backoff.Reset()
	stopTimer(&r.backoffT)
	r.stopPoll()
	r.heartbeat = time.NewTicker(r.cfg.HeartbeatInterval)
	r.staleT = time.NewTimer(r.cfg.StaleTimeout)
	r.setState(StateLive)

	go r.readLoop(ctx, res.gen, res.conn)
	r.scheduleResync()
}

func (r *Reconciler) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			r.send(ctx, closed{gen: gen, err: err})
			return
		}
		if !r.send(ctx, inbound{gen: gen, data: data}) {
			return
		}
	}
}

func (r *Reconciler) onInbound(msg inbound) {
	if msg.gen != r.gen || r.conn == nil {
		return
	}
	if r.staleT != nil {
		r.staleT.Reset(r.cfg.StaleTimeout)
	}

	data := bytes.TrimSpace(msg.data)
	if bytes.Equal(data, pongFrame) {
		return
	}
	var shot models.Shot
	if err := json.Unmarshal(data, &shot); err != nil {
		logging.Debug().Err(err).Msg("ignoring malformed push message")
		return
	}

	r.mu.Lock()
	r.stats = StatsFromShot(shot)
	p, ok := PointFromShot(shot, r.cfg.DayOffset)
	var reset bool
	if ok {
		_, reset = r.buf.Add(p)
		r.pushSeq++
		r.pushes = append(r.pushes, pushed{seq: r.pushSeq, point: p})
		if len(r.pushes) > r.cfg.MaxPoints {
			r.pushes = r.pushes[len(r.pushes)-r.cfg.MaxPoints:]
		}
	}
	r.mu.Unlock()

	if reset {
		r.emit(Event{Kind: EventSessionReset, State: r.state})
	}
	r.notify()
	r.scheduleResync()
}

func (r *Reconciler) onFetched(res fetched) {
	if res.err != nil {
		if !errors.Is(res.err, context.Canceled) {
			r.emit(Event{Kind: EventFetchFailed, State: r.state, Err: res.err})
		}
		return
	}

	r.mu.Lock()
	resets := 0
	switch res.kind {
	case fetchPoll:
		for i := len(res.shots) - 1; i >= 0; i-- {
			if p, ok := PointFromShot(res.shots[i], r.cfg.DayOffset); ok {
				if _, reset := r.buf.Add(p); reset {
					resets++
				}
			}
		}
	case fetchReload:
		rows := FilterToLatestSession(res.shots)
		pts := make([]Point, 0, len(rows))
		for _, s := range rows {
			if p, ok := PointFromShot(s, r.cfg.DayOffset); ok {
				pts = append(pts, p)
			}
		}
		r.buf.Replace(pts)

		// Pushes that arrived after the request went out are not in rows.
		kept := r.pushes[:0]
		for _, ps := range r.pushes {
			if ps.seq > res.since {
				r.buf.Add(ps.point)
				kept = append(kept, ps)
			}
		}
		r.pushes = kept
	}
	if len(res.shots) > 0 {
		r.stats = StatsFromShot(res.shots[0])
	}
	r.mu.Unlock()

	for ; resets > 0; resets-- {
		r.emit(Event{Kind: EventSessionReset, State: r.state})
	}
	r.notify()
}

// fetch runs a query in the background. Concurrent queries of the same kind
// share one request.
func (r *Reconciler) fetch(ctx context.Context, kind fetchKind) {
	key, limit := "reload", r.cfg.FullReloadLimit
	if kind == fetchPoll {
		key, limit = "poll", r.cfg.FastPollLimit
	}

	go func() {
		// since is read by whichever caller issues the request, so callers
		// sharing a result also share the push cutoff it was taken at.
		v, err, _ := r.sf.Do(key, func() (any, error) {
			r.mu.Lock()
			since := r.pushSeq
			r.mu.Unlock()
			shots, err := r.fetcher.Recent(ctx, limit)
			return snapshotResult{since: since, shots: shots}, err
		})
		res, _ := v.(snapshotResult)
		r.send(ctx, fetched{kind: kind, since: res.since, shots: res.shots, err: err})
	}()
}

type snapshotResult struct {
	since uint64
	shots []models.Shot
}

func (r *Reconciler) dropConn(ctx context.Context, err error) {
	if r.conn == nil {
		return
	}
	_ = r.conn.Close()
	r.conn = nil
	r.gen++
	r.stopLive()
	r.scheduleReconnect(ctx, err)
}

func (r *Reconciler) scheduleReconnect(ctx context.Context, cause error) {
	r.setState(StateReconnecting)
	r.startPoll(ctx, true)

	delay := r.backoff.NextBackOff()
	stopTimer(&r.backoffT)
	r.backoffT = time.NewTimer(delay)
	r.emit(Event{Kind: EventReconnectScheduled, State: StateReconnecting, Delay: delay, Err: cause})
}

func (r *Reconciler) scheduleResync() {
	if r.debounceT == nil {
		r.debounceT = time.NewTimer(r.cfg.ResyncDebounce)
		return
	}
	r.debounceT.Reset(r.cfg.ResyncDebounce)
}

func (r *Reconciler) startPoll(ctx context.Context, immediate bool) {
	if r.poll != nil {
		return
	}
	r.poll = time.NewTicker(r.cfg.FastPollInterval)
	if immediate {
		r.fetch(ctx, fetchPoll)
	}
}

func (r *Reconciler) stopPoll() {
	if r.poll != nil {
		r.poll.Stop()
		r.poll = nil
	}
}

func (r *Reconciler) stopLive() {
	if r.heartbeat != nil {
		r.heartbeat.Stop()
		r.heartbeat = nil
	}
	stopTimer(&r.staleT)
}

func (r *Reconciler) teardown() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.stopLive()
	r.stopPoll()
	stopTimer(&r.connectT)
	stopTimer(&r.backoffT)
	stopTimer(&r.debounceT)
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()

	r.emit(Event{Kind: EventStateChanged, State: s})
	r.notify()
}

func (r *Reconciler) send(ctx context.Context, ev any) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Reconciler) emit(ev Event) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

func (r *Reconciler) notify() {
	if r.OnChange != nil {
		r.OnChange(r.Snapshot())
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
