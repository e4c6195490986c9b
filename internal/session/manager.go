// Package session runs the per-user chat loop: it keeps at most one live
// session per user, handles that user's messages strictly in order, and
// persists every turn before replying.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/patientpal/internal/booking"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/intent"
	"github.com/wolfman30/patientpal/internal/observability/metrics"
	"github.com/wolfman30/patientpal/internal/operations"
	"github.com/wolfman30/patientpal/pkg/logging"
)

// Close reasons reported to the transport.
const (
	ReasonSuperseded    = "superseded"
	ReasonDisconnected  = "disconnected"
	ReasonStorageFailed = "storage_failure"
)

const defaultPersistTimeout = 5 * time.Second

var (
	// ErrNotConnected means the user has no live session.
	ErrNotConnected = errors.New("session: user is not connected")
	// ErrSessionClosed means the session ended while the message was handled.
	ErrSessionClosed = errors.New("session: session closed")
	ErrEmptyMessage  = errors.New("session: message is empty")
)

// Replies sent for failures the user can act on.
const (
	ReplyRephrase       = "Sorry, I couldn't process that. Could you please rephrase your request?"
	ReplyStorageFailure = "Sorry, something went wrong and your message may not have been saved. Please reconnect and try again."
	ReplyNotImplemented = "Sorry, that feature is not yet implemented."
	ReplyBackendTimeout = "Sorry, the appointment system took too long to respond. Please check your appointment details before trying again."
	ReplyBackendFailure = "Sorry, I couldn't reach the appointment system. Please try again later."
	ReplyDuplicate      = "That request has already been submitted."
)

var sessionTracer = otel.Tracer("patientpal.internal.session")

// Conn is the live connection of a session.
type Conn interface {
	SendHistory(messages []history.DisplayMessage) error
	SendMessage(text string) error
	Close(reason string) error
}

// Classifier interprets utterances.
type Classifier interface {
	Classify(ctx context.Context, transcript []history.Turn, utterance string, pending intent.Pending) (intent.Outcome, error)
}

// Dispatcher executes resolved operations against the appointment book.
type Dispatcher interface {
	Execute(ctx context.Context, key booking.DispatchKey, op operations.Operation) (booking.Result, error)
}

// Manager owns the session registry. Its lock only guards the map; message
// handling for different users never contends on it.
type Manager struct {
	store          history.Store
	classifier     Classifier
	dispatcher     Dispatcher
	logger         *logging.Logger
	metrics        *metrics.ChatMetrics
	persistTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Manager)

func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(cm *metrics.ChatMetrics) Option {
	return func(m *Manager) { m.metrics = cm }
}

// WithPersistTimeout bounds transcript writes, which are not cancelled by a
// disconnect.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

func NewManager(store history.Store, classifier Classifier, dispatcher Dispatcher, opts ...Option) *Manager {
	if store == nil || classifier == nil || dispatcher == nil {
		panic("session: store, classifier and dispatcher are required")
	}
	m := &Manager{
		store:          store,
		classifier:     classifier,
		dispatcher:     dispatcher,
		logger:         logging.Default(),
		persistTimeout: defaultPersistTimeout,
		sessions:       make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Component("session")
	return m
}

// Session is one user's live connection. All of its fields except conn and
// the close machinery are guarded by mu, which also serializes message
// handling.
type Session struct {
	userID string
	conn   Conn

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	reason    string

	mu      sync.Mutex
	pending intent.Pending
	turns   []history.Turn
}

func (s *Session) UserID() string { return s.userID }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Reason reports why the session ended. It is empty while the session is live.
func (s *Session) Reason() string {
	select {
	case <-s.ctx.Done():
		return s.reason
	default:
		return ""
	}
}

// Connect opens a session for an already authenticated user, replays the
// stored transcript over conn and returns the live session. An existing
// session for the same user is closed as superseded; Connect waits for its
// in-flight message to finish so the user's messages stay strictly ordered.
func (m *Manager) Connect(ctx context.Context, userID string, conn Conn) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("session: user id required")
	}
	if conn == nil {
		return nil, errors.New("session: connection required")
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{userID: userID, conn: conn, ctx: sctx, cancel: cancel}
	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.Lock()
	old := m.sessions[userID]
	m.sessions[userID] = s
	m.mu.Unlock()
	m.metrics.SessionOpened()

	if old != nil {
		m.logger.Info("session: superseding existing session", "user_id", userID)
		m.metrics.SessionSuperseded()
		m.close(old, ReasonSuperseded)
		// Wait out the superseded session's in-flight message.
		old.mu.Lock()
		old.mu.Unlock() //nolint:staticcheck
	}

	turns, err := m.store.Load(ctx, userID)
	if err != nil {
		m.close(s, ReasonStorageFailed)
		return nil, fmt.Errorf("session: load transcript: %w", err)
	}
	s.turns = turns
	if err := conn.SendHistory(history.ToDisplay(turns)); err != nil {
		m.logger.Warn("session: failed to deliver history", "user_id", userID, "error", err)
	}
	m.logger.Info("session: connected", "user_id", userID, "turns", len(turns))
	return s, nil
}

// Disconnect ends the user's session, cancelling its classifier wait and
// discarding its pending intent. Dispatched operations are not cancelled.
func (m *Manager) Disconnect(userID string) {
	m.mu.Lock()
	s := m.sessions[userID]
	m.mu.Unlock()
	if s != nil {
		m.close(s, ReasonDisconnected)
	}
}

// Release ends s if it is still the user's current session. Transports call
// it when their connection drops so a superseded socket never closes its
// replacement.
func (m *Manager) Release(s *Session) {
	if s != nil {
		m.close(s, ReasonDisconnected)
	}
}

// Connected reports whether userID has a live session.
func (m *Manager) Connected(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// FetchHistory returns the committed transcript in display form.
func (m *Manager) FetchHistory(ctx context.Context, userID string) ([]history.DisplayMessage, error) {
	turns, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: fetch history: %w", err)
	}
	return history.ToDisplay(turns), nil
}

func (m *Manager) close(s *Session, reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		s.cancel()

		m.mu.Lock()
		if m.sessions[s.userID] == s {
			delete(m.sessions, s.userID)
		}
		m.mu.Unlock()
		m.metrics.SessionClosed()

		if err := s.conn.Close(reason); err != nil {
			m.logger.Debug("session: close connection", "user_id", s.userID, "error", err)
		}
		m.logger.Info("session: closed", "user_id", s.userID, "reason", reason)
	})
}

func (m *Manager) current(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// HandleMessage processes one utterance of userID's live session and returns
// the reply that was persisted and delivered. Messages of one user are
// handled one at a time in arrival order.
func (m *Manager) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	s, ok := m.current(userID)
	if !ok {
		return "", ErrNotConnected
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return "", ErrSessionClosed
	}

	// Waits end when either the caller or the session goes away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx, span := sessionTracer.Start(ctx, "session.handle_message",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()
	start := time.Now()
	defer func() { m.metrics.ObserveStage("handle_message", time.Since(start)) }()

	logger := m.logger.With("user_id", userID)

	userTurn, err := m.persist(ctx, userID, history.UserTurn(text))
	if err != nil {
		return m.storageFailure(s, span, err)
	}
	s.turns = append(s.turns, userTurn)
	transcript := s.turns[:len(s.turns)-1]

	reply, payload, outcome := m.respond(ctx, s, userTurn, transcript, text, logger)
	if outcome == "" {
		span.SetStatus(codes.Error, "session closed")
		return "", ErrSessionClosed
	}

	modelTurn, err := m.persist(ctx, userID, history.ModelTurn(reply, payload))
	if err != nil {
		return m.storageFailure(s, span, err)
	}
	s.turns = append(s.turns, modelTurn)

	m.metrics.ObserveMessage(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err := s.conn.SendMessage(reply); err != nil {
		logger.Warn("session: failed to deliver reply", "error", err)
	}
	return reply, nil
}

// respond classifies the utterance and, once resolved, dispatches it. An
// empty outcome means the session closed during the classifier wait.
func (m *Manager) respond(ctx context.Context, s *Session, userTurn history.Turn, transcript []history.Turn, text string, logger *logging.Logger) (string, *history.Payload, string) {
	out, err := m.classifier.Classify(ctx, transcript, text, s.pending)
	if err != nil {
		if s.ctx.Err() != nil {
			return "", nil, ""
		}
		logger.Warn("session: classification failed", "error", err)
		return ReplyRephrase, nil, "classification_error"
	}

	switch out.Kind {
	case intent.Resolved:
		s.pending = intent.Pending{}
		op := out.Operation
		payload := &history.Payload{Operation: string(op.Name()), Arguments: op.Arguments()}
		key := booking.DispatchKey{UserID: s.userID, Sequence: userTurn.Sequence}

		// The dispatch outlives a disconnect; the dispatcher bounds it.
		result, err := m.dispatcher.Execute(context.WithoutCancel(ctx), key, op)
		if err != nil {
			logger.Warn("session: operation failed", "operation", string(op.Name()), "error", err)
			return backendReply(err), payload, "backend_error"
		}
		logger.Info("session: operation completed", "operation", string(op.Name()), "sequence", userTurn.Sequence)
		return intent.Substitute(out.Reply, result.Values), payload, "resolved"

	case intent.Unrecognized:
		s.pending = out.Pending
		return out.Reply, nil, "unrecognized"

	default:
		s.pending = out.Pending
		return out.Reply, nil, "incomplete"
	}
}

// persist appends a turn. Writes are detached from disconnect so a reply to
// an executed operation is not lost, but bounded by the persist timeout.
func (m *Manager) persist(ctx context.Context, userID string, turn history.Turn) (history.Turn, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
	defer cancel()
	start := time.Now()
	defer func() { m.metrics.ObserveStage("persist", time.Since(start)) }()
	return m.store.Append(ctx, userID, turn)
}

func (m *Manager) storageFailure(s *Session, span trace.Span, err error) (string, error) {
	m.logger.Error("session: transcript write failed", "user_id", s.userID, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "storage failure")
	m.metrics.ObserveMessage("storage_error")
	if serr := s.conn.SendMessage(ReplyStorageFailure); serr != nil {
		m.logger.Warn("session: failed to deliver storage failure notice", "user_id", s.userID, "error", serr)
	}
	m.close(s, ReasonStorageFailed)
	return ReplyStorageFailure, fmt.Errorf("session: persist turn: %w", err)
}

func backendReply(err error) string {
	var berr *booking.Error
	if !errors.As(err, &berr) {
		return ReplyBackendFailure
	}
	switch berr.Cause {
	case booking.CauseNotImplemented:
		return ReplyNotImplemented
	case booking.CauseTimeout:
		return ReplyBackendTimeout
	case booking.CauseDuplicate:
		return ReplyDuplicate
	case booking.CauseRejected:
		if berr.Message != "" {
			return "Sorry, I couldn't complete that request: " + berr.Message + "."
		}
		return "Sorry, the appointment system declined that request."
	default:
		return ReplyBackendFailure
	}
}
