package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/subscription"
	msgsync "chat-sync/internal/sync"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/topics"
	"chat-sync/internal/transport"
)

const typingDecay = time.Second

var (
	// ErrNoActivePeer is returned when send is attempted with no
	// conversation selected.
	ErrNoActivePeer = errors.New("no active peer")
	// ErrSessionClosed is returned once the session loop has stopped.
	ErrSessionClosed = errors.New("session closed")
)

// Error categories surfaced through the observable error state, in
// addition to the send categories from the api package.
const (
	ErrorHistoryLoad         = "history_load"
	ErrorInvalidConversation = "invalid_conversation"
)

// Snapshot is the read-only observable state exposed to the UI layer.
type Snapshot struct {
	Peer            string           `json:"peer"`
	Messages        []models.Message `json:"messages"`
	ConnectionState transport.State  `json:"connection_state"`
	Sending         bool             `json:"sending"`
	Typing          bool             `json:"typing"`
	Usage           models.Usage     `json:"usage"`
	ErrorCategory   string           `json:"error_category,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// Config carries session policy parameters.
type Config struct {
	TenantID             string
	Self                 string
	RequestTimeout       time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// Session wires the sync engine together for one authenticated user: it
// owns the send coordinator, the reconnection policy, and the single
// ordered event loop through which every mutation of the message list
// flows. Push deliveries, connection transitions and UI commands are
// serialized here so a push arrival can never interleave with a local
// send.
type Session struct {
	cfg    Config
	conn   transport.Connection
	client api.Client
	engine *msgsync.Engine
	sub    *subscription.Controller
	audit  *telemetry.AuditEmitter
	log    *zap.SugaredLogger

	pushCh chan []byte
	cmdCh  chan func()
	done   chan struct{}

	onChange func(Snapshot)

	recon *reconnector

	mu           sync.Mutex
	ctx          context.Context
	credential   string
	connState    transport.State
	reconnecting bool
	inflight     int
	typing       bool
	typingTimer  *time.Timer
	usage        models.Usage
	errCategory  string
	errMessage   string
	histSeq      uint64
}

// New builds a session around its collaborators.
func New(cfg Config, conn transport.Connection, client api.Client, engine *msgsync.Engine, audit *telemetry.AuditEmitter, log *zap.SugaredLogger) *Session {
	s := &Session{
		cfg:       cfg,
		conn:      conn,
		client:    client,
		engine:    engine,
		audit:     audit,
		log:       log,
		pushCh:    make(chan []byte, 64),
		cmdCh:     make(chan func(), 64),
		done:      make(chan struct{}),
		recon:     newReconnector(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.MaxReconnectAttempts),
		connState: transport.StateDisconnected,
	}
	s.sub = subscription.New(conn, cfg.TenantID, cfg.Self, s.enqueuePush, log)
	return s
}

// OnChange registers the observer notified after every state mutation.
// Must be set before Start.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.onChange = fn
}

// Start launches the event loop and initiates the first connect.
func (s *Session) Start(ctx context.Context, credential string) {
	s.mu.Lock()
	s.ctx = ctx
	s.credential = credential
	s.mu.Unlock()

	go s.run(ctx)
	s.enqueue(func() { s.dial() })
}

// run is the single logical thread of control: all mutations to the
// message sequence happen here, in arrival order.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.sub.Close()
			_ = s.conn.Disconnect()
			return
		case sc := <-s.conn.Notify():
			s.handleStateChange(sc)
		case payload := <-s.pushCh:
			s.handlePush(payload)
		case fn := <-s.cmdCh:
			fn()
		}
	}
}

// enqueuePush is the transport handler for both directional topics; it
// funnels deliveries onto the one ordered channel the loop consumes.
func (s *Session) enqueuePush(payload []byte) {
	select {
	case s.pushCh <- payload:
	case <-s.done:
	}
}

func (s *Session) enqueue(fn func()) bool {
	select {
	case s.cmdCh <- fn:
		return true
	case <-s.done:
		return false
	}
}

// SelectPeer switches the active conversation. An empty peer tears the
// conversation down. Returns InvalidConversationError (topics package)
// for unusable input.
func (s *Session) SelectPeer(peer string) error {
	peer = strings.TrimSpace(peer)
	if peer != "" {
		if _, err := topics.Resolve(s.cfg.TenantID, s.cfg.Self, peer); err != nil {
			return err
		}
	}

	if !s.enqueue(func() { s.applySelectPeer(peer) }) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) applySelectPeer(peer string) {
	s.engine.Reset()
	s.setError("", "")
	s.setTypingLocked(false)

	if err := s.sub.SetPeer(peer); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		if errors.Is(err, topics.ErrInvalidConversation) {
			s.setError(ErrorInvalidConversation, "Conversation could not be opened.")
		}
		s.broadcast()
		return
	}

	s.audit.Emit(context.Background(), "peer_selected", map[string]any{"peer": peer})

	if peer != "" {
		seq := s.nextHistSeq()
		go s.fetchHistory(peer, seq)
	}
	s.broadcast()
}

// Send performs the dual-path send: the optimistic entry is inserted
// before the persistence call starts, so the push-confirmed echo always
// finds it. Empty content is a no-op.
func (s *Session) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	peer := s.sub.Peer()
	if peer == "" {
		return ErrNoActivePeer
	}

	if !s.enqueue(func() { s.applySend(peer, content) }) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) applySend(peer, content string) {
	msg := models.Message{
		TempID:        uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Sender:        s.cfg.Self,
		Receiver:      peer,
		Content:       content,
		Timestamp:     time.Now().UTC(),
		Pending:       true,
	}

	s.engine.OptimisticAdd(msg)
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	s.setTypingLocked(false)
	observability.IncSend()
	s.broadcast()

	go s.persistSend(msg)
}

func (s *Session) persistSend(msg models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	err := s.client.SendMessage(ctx, msg)

	s.enqueue(func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()

		if err != nil {
			s.engine.OptimisticFailed(msg.TempID)
			category := string(api.SendUnknown)
			var sendErr *api.SendError
			if errors.As(err, &sendErr) {
				category = string(sendErr.Category)
			}
			s.setError(category, sendFailureMessage(category))
			observability.IncSendFailure(category)
			s.audit.Emit(context.Background(), "send_failed", map[string]any{
				"peer":     msg.Receiver,
				"category": category,
			})
			s.log.Warnw("send failed", "peer", msg.Receiver, "category", category, "error", err)
			s.broadcast()
			return
		}

		// Confirmation arrives exclusively via the push path; the only
		// follow-up here is the quota refresh, which is non-fatal.
		s.setError("", "")
		s.broadcast()
		go s.refreshUsage()
	})
}

func (s *Session) refreshUsage() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	usage, err := s.client.FetchDailyUsage(ctx)
	if err != nil {
		s.log.Warnw("usage refresh failed", "error", err)
		return
	}
	s.enqueue(func() {
		s.mu.Lock()
		s.usage = usage
		s.mu.Unlock()
		s.broadcast()
	})
}

// RetryHistory re-fetches history for the active peer after a load
// failure.
func (s *Session) RetryHistory() error {
	if !s.enqueue(func() {
		peer := s.sub.Peer()
		if peer == "" {
			return
		}
		s.setError("", "")
		seq := s.nextHistSeq()
		go s.fetchHistory(peer, seq)
		s.broadcast()
	}) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) fetchHistory(peer string, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	msgs, err := s.client.FetchHistory(ctx, peer)

	s.enqueue(func() {
		// A late response for a stale peer must be discarded: the peer at
		// request time has to still be the active one.
		if peer != s.sub.Peer() || !s.isCurrentHistSeq(seq) {
			s.log.Debugw("stale history response discarded", "peer", peer)
			return
		}
		if err != nil {
			s.setError(ErrorHistoryLoad, "Messages could not be loaded.")
			s.log.Warnw("history load failed", "peer", peer, "error", err)
			s.broadcast()
			return
		}
		s.engine.LoadHistory(msgs)
		s.broadcast()
	})
}

// SetTyping flips the local typing indicator; it decays automatically
// after one second of inactivity and never touches the network.
func (s *Session) SetTyping(on bool) error {
	if !s.enqueue(func() {
		s.setTypingLocked(on)
		s.broadcast()
	}) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) handlePush(payload []byte) {
	msg, err := models.DecodePush(payload)
	if err != nil {
		s.log.Debugw("undecodable push discarded", "error", err)
		return
	}

	peer := s.sub.Peer()
	if peer == "" || !msg.Involves(s.cfg.Self, peer) {
		// Late delivery from a previous conversation's topic.
		observability.IncPushDelivery("ignored")
		return
	}

	outcome := s.engine.ServerMessageArrived(msg)
	if outcome == msgsync.OutcomeDuplicate {
		s.audit.Emit(context.Background(), "dedup_drop", map[string]any{"key": msg.DedupKey()})
	}
	s.broadcast()
}

func (s *Session) handleStateChange(sc transport.StateChange) {
	s.mu.Lock()
	s.connState = sc.State
	s.mu.Unlock()

	s.audit.Emit(context.Background(), "transport_"+string(sc.State), map[string]any{
		"cause": causeString(sc.Cause),
	})

	switch sc.State {
	case transport.StateConnected:
		s.recon.reset()
		if err := s.sub.HandleConnectionUp(); err != nil {
			s.log.Warnw("resubscribe after reconnect failed", "error", err)
		}
	case transport.StateDisconnected:
		s.sub.HandleConnectionDown()
		if sc.Cause != nil {
			s.scheduleReconnect()
		}
	}
	s.broadcast()
}

func (s *Session) dial() {
	s.mu.Lock()
	ctx := s.ctx
	credential := s.credential
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	go func() {
		if err := s.conn.Connect(ctx, credential); err != nil {
			s.log.Warnw("connect failed", "error", err)
		}
	}()
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.reconnecting || s.recon.exhausted() {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	delay := s.recon.next()
	s.log.Infow("scheduling reconnect", "delay", delay)
	time.AfterFunc(delay, func() {
		s.enqueue(func() {
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			s.dial()
		})
	})
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Peer:            s.sub.Peer(),
		ConnectionState: s.connState,
		Sending:         s.inflight > 0,
		Typing:          s.typing,
		Usage:           s.usage,
		ErrorCategory:   s.errCategory,
		ErrorMessage:    s.errMessage,
	}
	s.mu.Unlock()
	snap.Messages = s.engine.Messages()
	return snap
}

func (s *Session) broadcast() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Snapshot())
}

func (s *Session) setError(category, message string) {
	s.mu.Lock()
	s.errCategory = category
	s.errMessage = message
	s.mu.Unlock()
}

func (s *Session) setTypingLocked(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = on
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if on {
		s.typingTimer = time.AfterFunc(typingDecay, func() {
			s.enqueue(func() {
				s.mu.Lock()
				s.typing = false
				s.mu.Unlock()
				s.broadcast()
			})
		})
	}
}

func (s *Session) nextHistSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histSeq++
	return s.histSeq
}

func (s *Session) isCurrentHistSeq(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.histSeq
}

func sendFailureMessage(category string) string {
	switch api.SendCategory(category) {
	case api.SendRateLimited:
		return "Daily message limit reached. Try again later."
	case api.SendPeerNotFound:
		return "Recipient not found."
	case api.SendInvalidContent:
		return "Message was rejected."
	default:
		return "Message could not be sent. Please try again."
	}
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
