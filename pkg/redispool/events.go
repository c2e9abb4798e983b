package redispool

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/redis/go-redis/v9"
)

// EventType is a connection lifecycle event.
type EventType int

const (
	// EventConnect fires when a connection is (re)established after the
	// profile was unhealthy, including the very first connection.
	EventConnect EventType = iota
	// EventReconnecting fires before a dial attempt while unhealthy.
	EventReconnecting
	// EventError fires when a command fails because the store is unreachable.
	// Reply errors (WRONGTYPE, NOSCRIPT, ...) and cache misses do not count.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle transition of a profile's connection.
type Event struct {
	Profile Profile
	Type    EventType
	Err     error
	At      time.Time
}

// Handler receives connection events. Handlers run synchronously on the
// goroutine that issued the command and must not block.
type Handler func(Event)

// Observer is the failure tracker a profile can be guarded by.
type Observer interface {
	RecordSuccess()
	RecordFailure()
}

// monitor is a go-redis hook that turns command outcomes into Events.
type monitor struct {
	profile Profile
	logger  *logging.Logger

	healthy   atomic.Bool
	connected atomic.Bool

	mu       sync.RWMutex
	handlers []Handler
}

var _ redis.Hook = (*monitor)(nil)

func newMonitor(profile Profile, logger *logging.Logger) *monitor {
	return &monitor{profile: profile, logger: logger}
}

func (m *monitor) subscribe(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

func (m *monitor) emit(t EventType, err error) {
	evt := Event{Profile: m.profile, Type: t, Err: err, At: time.Now()}

	switch t {
	case EventError:
		m.logger.Warn().Str(logging.Pool, string(m.profile)).Err(err).Msg("redis connection error")
	case EventConnect:
		m.logger.Info().Str(logging.Pool, string(m.profile)).Msg("redis connected")
	case EventReconnecting:
		m.logger.Debug().Str(logging.Pool, string(m.profile)).Msg("redis reconnecting")
	}

	m.mu.RLock()
	handlers := m.handlers
	m.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (m *monitor) markHealthy() {
	if m.healthy.CompareAndSwap(false, true) {
		m.connected.Store(true)
		m.emit(EventConnect, nil)
	}
}

// observe records a command outcome. A command cut short by its own
// context says nothing about the store and is ignored.
func (m *monitor) observe(ctx context.Context, err error) {
	if callerDone(ctx, err) {
		return
	}
	if isConnError(err) {
		m.healthy.Store(false)
		m.emit(EventError, err)
		return
	}
	m.markHealthy()
}

func (m *monitor) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if m.connected.Load() && !m.healthy.Load() {
			m.emit(EventReconnecting, nil)
		}

		conn, err := next(ctx, network, addr)
		if err != nil {
			if !callerDone(ctx, err) {
				m.healthy.Store(false)
			}
			return nil, err
		}
		m.markHealthy()
		return conn, nil
	}
}

func (m *monitor) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		m.observe(ctx, err)
		return err
	}
}

func (m *monitor) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		m.observe(ctx, err)
		return err
	}
}

// callerDone reports whether err comes from ctx ending rather than from
// the store: a cancellation, or a deadline or i/o timeout once ctx is done.
func callerDone(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnError reports whether err means the store could not be reached.
func isConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	// Server replies (including TxFailedErr) mean the connection is fine.
	var replyErr redis.Error
	return !errors.As(err, &replyErr)
}
