// Package transport implements the reconnecting session that carries
// framed messages between a replica and a relay. Its
// reconnect loop is grounded on getployz-ployz's resubscribeLoop: an
// exponential backoff computed with min(backoff*2, cap), driven by a
// select over a context and a time.After timer.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lyolishe/collaborative-text-editor/proto"
	"github.com/lyolishe/collaborative-text-editor/queue"
)

// State is one of the four session states.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	backoffBase       = 1 * time.Second
	backoffCap        = 30 * time.Second
	backoffJitterMax  = 1 * time.Second
	maxConsecutiveFailures = 10
	reconciliationYield    = 10 * time.Millisecond
)

// Backoff returns the delay for the n-th consecutive failure:
// min(base*2^n, cap) plus jitter in [0, 1000ms). jitter is supplied by the
// caller so tests can make it deterministic.
func Backoff(n int, jitter time.Duration) time.Duration {
	delay := backoffBase
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}
	return delay + jitter
}

// Conn is a single framed connection to a relay.
type Conn interface {
	Send(msg Envelope) error
	Recv() (Envelope, error)
	Close() error
}

// Dialer opens a new Conn to the relay for a document.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Envelope is the wire message shape exchanged with the relay.
type Envelope struct {
	Type        string           `json:"type"`
	Operation   *proto.Operation `json:"operation,omitempty"`
	IsSync      bool             `json:"isSync,omitempty"`
	Count       *int             `json:"count,omitempty"`
	OperationID string           `json:"operationId,omitempty"`
	Success     *bool            `json:"success,omitempty"`
	Error       string           `json:"error,omitempty"`
}

const (
	msgOperation    = "operation"
	msgUsersUpdate  = "users_update"
	msgOperationAck = "operation_ack"
)

// Badge is the user-visible connection status.
type Badge struct {
	State   State `json:"state"`
	Pending int   `json:"pendingOperations"`
}

// Session manages one reconnecting transport channel for a document.
type Session struct {
	mu      sync.Mutex
	dialer  Dialer
	queue   *queue.Queue
	logger  *zap.SugaredLogger
	jitter  func() time.Duration
	onMsg   func(Envelope)

	state       State
	conn        Conn
	failures    int
	cancel      context.CancelFunc
	syncing     bool
	closeCalled bool

	// pendingSync maps an operation's own correlation id (posid.PosId's
	// String form) to the outbound queue entry it came from, for the
	// duration of a reconciliation pass. The relay's operation_ack
	// carries only the operation's id, not the queue's own
	// queueId, so this is how an ack is routed back to Queue.Ack.
	pendingSync map[string]string

	reconnectGroup singleflight.Group
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJitter overrides the jitter source; tests use this for determinism.
func WithJitter(fn func() time.Duration) Option {
	return func(s *Session) { s.jitter = fn }
}

// WithMessageHandler registers the callback invoked for every inbound
// message delivered upward to the application.
func WithMessageHandler(fn func(Envelope)) Option {
	return func(s *Session) { s.onMsg = fn }
}

// New creates a Disconnected Session for q, dialed through d.
func New(d Dialer, q *queue.Queue, opts ...Option) *Session {
	s := &Session{
		dialer: d,
		queue:  q,
		logger: zap.NewNop().Sugar(),
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(backoffJitterMax))) },
		onMsg:       func(Envelope) {},
		state:       Disconnected,
		pendingSync: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Badge reports the current connection status badge.
func (s *Session) Badge() Badge {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return Badge{State: state, Pending: s.queue.Size()}
}

// Open begins connecting. It is idempotent: calling it while already
// connecting or connected has no effect.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	s.closeCalled = false
	s.failures = 0
	s.state = Connecting
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.connectLoop(runCtx)
}

// Reconnect resets the attempt counter and triggers an immediate connect.
// Concurrent calls collapse onto a single dial via singleflight.
func (s *Session) Reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.state == Connecting {
		s.mu.Unlock()
		return
	}
	s.failures = 0
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	s.reconnectGroup.Do("reconnect", func() (interface{}, error) {
		s.mu.Lock()
		s.state = Connecting
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.mu.Unlock()
		go s.connectLoop(runCtx)
		return nil, nil
	})
}

// Close transitions to terminal Disconnected, cancels any pending
// reconnect timer, and drops in-flight messages. The queue is not
// drained.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalled = true
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send writes msg if Connected; otherwise, if msg carries an operation, it
// is enqueued for later delivery. Non-operation
// messages sent while not Connected are dropped silently.
func (s *Session) Send(env Envelope) error {
	s.mu.Lock()
	state := s.state
	conn := s.conn
	s.mu.Unlock()

	if state == Connected && conn != nil {
		if err := conn.Send(env); err != nil {
			if env.Type == msgOperation && env.Operation != nil {
				if _, qerr := s.queue.Enqueue(*env.Operation); qerr != nil {
					return fmt.Errorf("enqueue after send failure: %w", qerr)
				}
			}
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if env.Type == msgOperation && env.Operation != nil {
		_, err := s.queue.Enqueue(*env.Operation)
		return err
	}
	return nil
}

// connectLoop drives Connecting -> Connected -> (Reconnecting ->
// Connecting)* -> terminal Disconnected.
func (s *Session) connectLoop(ctx context.Context) {
	for {
		conn, err := s.dialer.Dial(ctx)

		s.mu.Lock()
		if s.closeCalled {
			s.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			s.failures++
			s.logger.Infow("connect attempt failed", "failures", s.failures, "error", err)
			if s.failures >= maxConsecutiveFailures {
				s.state = Disconnected
				s.mu.Unlock()
				return
			}
			s.state = Reconnecting
			delay := Backoff(s.failures-1, s.jitter())
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			s.mu.Lock()
			s.state = Connecting
			s.mu.Unlock()
			continue
		}

		s.conn = conn
		s.failures = 0
		s.state = Connected
		s.mu.Unlock()

		s.logger.Infow("session connected")
		go s.reconciliationPass(ctx)
		s.readLoop(ctx, conn)

		s.mu.Lock()
		if s.closeCalled {
			s.mu.Unlock()
			return
		}
		s.conn = nil
		s.failures++
		if s.failures >= maxConsecutiveFailures {
			s.state = Disconnected
			s.mu.Unlock()
			return
		}
		s.state = Reconnecting
		delay := Backoff(s.failures-1, s.jitter())
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		s.mu.Lock()
		s.state = Connecting
		s.mu.Unlock()
	}
}

// readLoop delivers inbound messages upward until the connection closes or
// the context is cancelled.
func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		if env.Type == msgOperationAck {
			if err := s.HandleAck(env); err != nil {
				s.logger.Warnw("failed to apply operation ack", "opId", env.OperationID, "error", err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
			s.onMsg(env)
		}
	}
}

// reconciliationPass replays the outbound queue on a fresh Connected
// transition.
func (s *Session) reconciliationPass(ctx context.Context) {
	s.mu.Lock()
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	for _, entry := range s.queue.PeekAll() {
		s.mu.Lock()
		stillConnected := s.state == Connected
		conn := s.conn
		s.mu.Unlock()
		if !stillConnected || conn == nil {
			return
		}

		op := entry.Op
		env := Envelope{Type: msgOperation, Operation: &op, IsSync: true}
		if len(op.ID) > 0 {
			s.mu.Lock()
			s.pendingSync[op.ID.String()] = entry.QueueID
			s.mu.Unlock()
		}
		if err := conn.Send(env); err != nil {
			s.logger.Debugw("reconciliation send failed", "queueId", entry.QueueID, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconciliationYield):
		}
	}
}

// HandleAck applies an operation_ack. The relay echoes back the
// operation's own correlation id, so this looks up the
// matching queue entry recorded by reconciliationPass rather than
// treating env.OperationID as a queueId directly.
func (s *Session) HandleAck(env Envelope) error {
	if env.Type != msgOperationAck {
		return nil
	}

	s.mu.Lock()
	queueID, tracked := s.pendingSync[env.OperationID]
	if tracked {
		delete(s.pendingSync, env.OperationID)
	}
	s.mu.Unlock()

	if !tracked {
		return nil
	}
	if env.Success != nil && *env.Success {
		return s.queue.Ack([]string{queueID})
	}
	return nil
}

// MarshalEnvelope encodes env for transmission.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes a framed message.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
