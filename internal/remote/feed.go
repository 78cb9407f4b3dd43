package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

type FeedState int

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedReconnecting
	FeedFailed
)

func (s FeedState) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedReconnecting:
		return "reconnecting"
	case FeedFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type (
	EventCallback func(ev dueldto.FeedEvent)
	StateCallback func(state FeedState)
)

type eventEntry struct {
	id       int
	callback EventCallback
}

type stateEntry struct {
	id       int
	callback StateCallback
}

// Feed is a reconnecting websocket subscription to one match channel.
// The authority sends the current row on every (re)connect.
type Feed struct {
	wsURL  string
	logger *zap.Logger

	conn  *websocket.Conn
	connM sync.Mutex

	state  FeedState
	stateM sync.RWMutex

	eventCbs []eventEntry
	stateCbs []stateEntry
	nextID   int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewFeed(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		wsURL:                wsURL,
		logger:               zap.NewNop(),
		state:                FeedDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

func (f *Feed) SetLogger(l *zap.Logger) {
	if l != nil {
		f.logger = l
	}
}

// SetHeaderProvider injects headers into every handshake.
func (f *Feed) SetHeaderProvider(h HeaderProvider) {
	f.headerProvider = h
}

func (f *Feed) SetPingInterval(d time.Duration) {
	if d > 0 {
		f.pingInterval = d
	}
}

func (f *Feed) State() FeedState {
	f.stateM.RLock()
	defer f.stateM.RUnlock()
	return f.state
}

// Connect dials once. A failed first dial is returned to the caller; drops
// after that are redialled in the background.
func (f *Feed) Connect(ctx context.Context) error {
	if f.isStopping() {
		return errors.New("feed closed")
	}
	switch f.State() {
	case FeedConnected, FeedConnecting, FeedReconnecting:
		return nil
	}
	f.setState(FeedConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := f.dial(dialCtx)
	if err != nil {
		f.setState(FeedFailed)
		return err
	}
	f.start(conn)
	return nil
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, f.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      f.buildHeaders(),
	})
	return conn, err
}

func (f *Feed) start(conn *websocket.Conn) {
	f.connM.Lock()
	f.conn = conn
	f.connM.Unlock()
	f.setState(FeedConnected)

	done := make(chan struct{})
	f.wg.Add(2)
	go f.listen(conn, done)
	go f.pingLoop(conn, done)
}

func (f *Feed) listen(conn *websocket.Conn, done chan struct{}) {
	defer f.wg.Done()
	defer close(done)
	for {
		var ev dueldto.FeedEvent
		if err := wsjson.Read(f.rootCtx, conn, &ev); err != nil {
			if f.isStopping() {
				return
			}
			f.logger.Warn("duel_feed_read_error", zap.String("url", f.wsURL), zap.Error(err))
			f.setState(FeedDisconnected)
			_ = f.closeConn(conn, websocket.StatusGoingAway, "reconnect")
			f.scheduleReconnect()
			return
		}

		f.cbM.RLock()
		callbacks := make([]eventEntry, len(f.eventCbs))
		copy(callbacks, f.eventCbs)
		f.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(ev)
			}
		}
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer f.wg.Done()
	t := time.NewTicker(f.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-f.stopCh:
			return
		case <-done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(f.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// listen sees the closed conn and schedules the redial
				_ = f.closeConn(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (f *Feed) scheduleReconnect() {
	if f.maxReconnectAttempts <= 0 {
		f.setState(FeedFailed)
		return
	}
	f.setState(FeedReconnecting)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for attempt := 1; attempt <= f.maxReconnectAttempts; attempt++ {
			select {
			case <-f.stopCh:
				return
			case <-time.After(f.reconnectBackoff(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(f.rootCtx, 10*time.Second)
			conn, err := f.dial(dialCtx)
			cancel()
			if err != nil {
				f.logger.Debug("duel_feed_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if f.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			f.logger.Info("duel_feed_reconnected", zap.String("url", f.wsURL), zap.Int("attempt", attempt))
			f.start(conn)
			return
		}
		f.setState(FeedFailed)
	}()
}

func (f *Feed) reconnectBackoff(attempt int) time.Duration {
	if f.reconnectDelay <= 0 {
		return backoffDuration(attempt)
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(attempt) * f.reconnectDelay
}

func (f *Feed) OnEvent(cb EventCallback) int {
	f.cbM.Lock()
	defer f.cbM.Unlock()
	f.nextID++
	f.eventCbs = append(f.eventCbs, eventEntry{id: f.nextID, callback: cb})
	return f.nextID
}

func (f *Feed) RemoveEventCallback(id int) {
	f.cbM.Lock()
	defer f.cbM.Unlock()
	for i, cb := range f.eventCbs {
		if cb.id == id {
			f.eventCbs = append(f.eventCbs[:i], f.eventCbs[i+1:]...)
			break
		}
	}
}

func (f *Feed) OnStateChange(cb StateCallback) int {
	f.cbM.Lock()
	defer f.cbM.Unlock()
	f.nextID++
	f.stateCbs = append(f.stateCbs, stateEntry{id: f.nextID, callback: cb})
	return f.nextID
}

func (f *Feed) RemoveStateCallback(id int) {
	f.cbM.Lock()
	defer f.cbM.Unlock()
	for i, cb := range f.stateCbs {
		if cb.id == id {
			f.stateCbs = append(f.stateCbs[:i], f.stateCbs[i+1:]...)
			break
		}
	}
}

func (f *Feed) setState(state FeedState) {
	f.stateM.Lock()
	f.state = state
	f.stateM.Unlock()

	f.cbM.RLock()
	callbacks := make([]stateEntry, len(f.stateCbs))
	copy(callbacks, f.stateCbs)
	f.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close stops reading and redialling and waits for the feed goroutines.
func (f *Feed) Close(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.connM.Lock()
	conn := f.conn
	f.connM.Unlock()
	if conn != nil {
		_ = f.closeConn(conn, websocket.StatusNormalClosure, "close")
	}
	f.rootCancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		f.setState(FeedDisconnected)
		return nil
	}
}

func (f *Feed) closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) error {
	f.connM.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.connM.Unlock()
	return conn.Close(code, reason)
}

func (f *Feed) isStopping() bool {
	select {
	case <-f.stopCh:
		return true
	default:
		return false
	}
}

func (f *Feed) buildHeaders() http.Header {
	hdr := http.Header{}
	if f.headerProvider == nil {
		return hdr
	}
	for k, v := range f.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

// MatchFeedURL is the realtime address of one match channel.
func (c *Client) MatchFeedURL(matchID string) string {
	return c.realtimeURL + "/matches/" + url.PathEscape(matchID)
}

// Subscribe streams match rows until ctx ends, then closes the channel.
func (c *Client) Subscribe(ctx context.Context, matchID string) (<-chan domain.Match, error) {
	if c.realtimeURL == "" {
		return nil, errors.New("realtime url not configured")
	}
	if strings.TrimSpace(matchID) == "" {
		return nil, domain.ErrInvalidArgs
	}
	f := NewFeed(c.MatchFeedURL(matchID), c.feedReconnects, c.feedDelay)
	f.SetLogger(c.logger)
	f.SetHeaderProvider(c.authHeaders)

	out := make(chan domain.Match, 16)
	var (
		mu     sync.Mutex
		closed bool
	)
	f.OnEvent(func(ev dueldto.FeedEvent) {
		if ev.Match == nil {
			return
		}
		m := ev.Match.ToDomain()
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- *m:
		case <-ctx.Done():
		}
	})
	if err := f.Connect(ctx); err != nil {
		_ = f.Close(context.Background())
		return nil, err
	}

	go func() {
		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := f.Close(closeCtx); err != nil {
			c.logger.Warn("duel_feed_close_error", zap.String("match_id", matchID), zap.Error(err))
		}
		cancel()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}
