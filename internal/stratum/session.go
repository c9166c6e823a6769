package stratum

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bardlex/hashpool/internal/pool/vardiff"
	"github.com/bardlex/hashpool/pkg/log"
)

// Session represents one downstream SV1 miner connection to the
// translator. A translator process holds one Session per connected SV1
// miner alongside a single upstream SV2 channel; ChannelID and the target
// fields link this session to that upstream channel's share-accounting
// state.
type Session struct {
	id     string
	conn   net.Conn
	logger *log.Logger

	// Session state
	subscribed      bool
	authorized      bool
	username        string
	workerName      string
	authorizedNames map[string]struct{} // worker sub-names authorized over this connection
	extraNonce1     string
	extraNonce2Size int

	// Upstream linkage: which SV2 channel this downstream's shares are
	// forwarded through, non-aggregated-mode only (aggregated mode shares
	// one channel across many sessions, tracked by the translator instead).
	channelID uint32

	// Target assignment: currentTarget is the target last confirmed to the
	// miner via mining.set_difficulty. pendingTarget holds a target recorded
	// through SetPendingTarget and is cleared by SetCurrentTarget. The
	// translator's vardiff ticker applies every retarget, weaker or
	// stronger, straight to currentTarget and never sets pendingTarget.
	currentTarget [32]byte
	pendingTarget *[32]byte

	// Vardiff tracking
	vardiff *vardiff.State

	// Connection management
	readTimeout  time.Duration
	writeTimeout time.Duration

	// Channels for communication
	outbound chan []byte
	done     chan struct{}

	// Synchronization
	mu sync.RWMutex
}

// NewSession creates a new Stratum session seeded with an initial vardiff
// state; now is the session's creation time, used as the vardiff window's
// starting point.
func NewSession(id string, conn net.Conn, logger *log.Logger, readTimeout, writeTimeout time.Duration, vardiffCfg vardiff.Config, initialHashrate float64, now time.Time) *Session {
	return &Session{
		id:              id,
		conn:            conn,
		logger:          logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		authorizedNames: make(map[string]struct{}),
		vardiff:         vardiff.New(vardiffCfg, initialHashrate, now),
		readTimeout:     readTimeout,
		writeTimeout:    writeTimeout,
		outbound:        make(chan []byte, 100), // Buffered channel for outbound messages
		done:            make(chan struct{}),
	}
}

// Start begins processing the session
func (s *Session) Start(ctx context.Context, handler MessageHandler) error {
	s.logger.LogConnection("connected", s.conn.RemoteAddr().String())

	// Start the write goroutine
	go s.writeLoop(ctx)

	// Start the read loop in the current goroutine
	return s.readLoop(ctx, handler)
}

// readLoop handles incoming messages from the client
func (s *Session) readLoop(ctx context.Context, handler MessageHandler) error {
	defer s.Close()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), 4096) // Set buffer size

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		// Set read deadline
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.logger.WithError(err).Error("failed to set read deadline")
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				s.logger.WithError(err).Error("scanner error")
				return err
			}
			// EOF - client disconnected
			s.logger.Info("client disconnected")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.logger.LogStratumMessage("received", string(line))

		// Parse the message
		msg, err := ParseMessage(line)
		if err != nil {
			s.logger.WithError(err).Error("failed to parse message")
			if sendErr := s.SendError(nil, ErrorParseError, "Parse error"); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send parse error")
			}
			continue
		}

		// Handle the message
		if err := handler.HandleMessage(ctx, s, msg); err != nil {
			s.logger.WithError(err).Error("failed to handle message")
		}
	}
}

// writeLoop handles outbound messages to the client
func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.WithError(err).Error("failed to set write deadline")
				return
			}

			// Add newline delimiter
			data = append(data, '\n')

			if _, err := s.conn.Write(data); err != nil {
				s.logger.WithError(err).Error("failed to write message")
				return
			}

			s.logger.LogStratumMessage("sent", string(data[:len(data)-1])) // Log without newline
		}
	}
}

// SendMessage sends a message to the client
func (s *Session) SendMessage(msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		return fmt.Errorf("outbound channel full")
	}
}

// SendResponse sends a response message
func (s *Session) SendResponse(id interface{}, result interface{}) error {
	return s.SendMessage(NewResponse(id, result))
}

// SendError sends an error response
func (s *Session) SendError(id interface{}, code int, message string) error {
	return s.SendMessage(NewErrorResponse(id, code, message))
}

// SendNotification sends a notification message
func (s *Session) SendNotification(method string, params []interface{}) error {
	return s.SendMessage(NewNotification(method, params))
}

// Close closes the session
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return // Already closed
	default:
		close(s.done)
		s.logger.LogConnection("disconnected", s.conn.RemoteAddr().String())
	}
}

// Getters and setters with proper locking

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the remote address of the client connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// IsSubscribed returns whether the session has completed mining.subscribe.
func (s *Session) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// SetSubscribed sets the subscription status of the session.
func (s *Session) SetSubscribed(subscribed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = subscribed
}

// IsAuthorized returns whether the session has completed mining.authorize.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// SetAuthorized sets the authorization status of the session.
func (s *Session) SetAuthorized(authorized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = authorized
}

// Username returns the miner's username (Bitcoin address).
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// SetUsername sets the miner's username (Bitcoin address).
func (s *Session) SetUsername(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
}

// WorkerName returns the worker name for this session.
func (s *Session) WorkerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workerName
}

// SetWorkerName sets the worker name for this session.
func (s *Session) SetWorkerName(workerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerName = workerName
}

// ExtraNonce1 returns the ExtraNonce1 value for this session.
func (s *Session) ExtraNonce1() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extraNonce1
}

// SetExtraNonce1 sets the ExtraNonce1 value for this session.
func (s *Session) SetExtraNonce1(extraNonce1 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraNonce1 = extraNonce1
}

// ChannelID returns the upstream SV2 channel this session's shares are
// forwarded through.
func (s *Session) ChannelID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelID
}

// SetChannelID links this session to its upstream channel, set once the
// translator's OpenStandardMiningChannel (or its slice of an aggregated
// extended channel) succeeds.
func (s *Session) SetChannelID(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelID = id
}

// CurrentTarget returns the target last confirmed to the miner.
func (s *Session) CurrentTarget() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTarget
}

// SetCurrentTarget confirms a target immediately and clears any pending
// target. The translator's vardiff ticker calls it for every retarget,
// weaker or stronger.
func (s *Session) SetCurrentTarget(t [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTarget = t
	s.pendingTarget = nil
}

// SetPendingTarget records a target as pending without confirming it.
// Nothing in the translator calls it.
func (s *Session) SetPendingTarget(t [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingTarget = &t
}

// PendingTarget returns the stored pending target, if any.
func (s *Session) PendingTarget() (target [32]byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pendingTarget == nil {
		return [32]byte{}, false
	}
	return *s.pendingTarget, true
}

// ExtraNonce2Size returns the extranonce2 length advertised to this miner.
func (s *Session) ExtraNonce2Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extraNonce2Size
}

// SetExtraNonce2Size sets the extranonce2 length advertised to this miner.
func (s *Session) SetExtraNonce2Size(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraNonce2Size = size
}

// AuthorizeWorker records an authorized worker sub-name (e.g.
// "address.worker1"), allowing more than one worker name per connection.
func (s *Session) AuthorizeWorker(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizedNames[name] = struct{}{}
}

// IsWorkerAuthorized reports whether name was previously authorized on
// this connection.
func (s *Session) IsWorkerAuthorized(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authorizedNames[name]
	return ok
}

// RecordShare feeds an accepted share into this session's vardiff window.
func (s *Session) RecordShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vardiff.RecordShare()
}

// EvaluateVardiff runs the retarget algorithm against this session's
// window and returns the result, per internal/pool/vardiff.
func (s *Session) EvaluateVardiff(now time.Time) vardiff.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vardiff.Evaluate(now)
}

// MessageHandler interface for handling Stratum messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, msg *Message) error
}
