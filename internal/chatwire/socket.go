package chatwire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/relaychat/internal/chat"
)

const (
	defaultDialTimeout   = 10 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultReconnectBase = 500 * time.Millisecond
	defaultReconnectMax  = 30 * time.Second
	maxInboundFrameBytes = 1 << 20
	ackEventName         = "ack"
)

type SocketOptions struct {
	URL          string
	Token        string
	HTTPClient   *http.Client
	Logger       chat.Logger
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// frame is the JSON envelope both directions share. Outgoing sends carry an
// id when they expect an acknowledgement; the server answers with an "ack"
// frame echoing that id.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event"`
	Status  string          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Socket is the real-time transport. One instance is shared for the whole
// session and injected into consumers; it reconnects with capped exponential
// backoff until Close. Implements chat.Transport.
type Socket struct {
	url          string
	token        string
	httpClient   *http.Client
	logger       chat.Logger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	closed        bool
	acks          map[string]func(chat.Ack)
	handlers      map[string]map[int]chat.Handler
	nextHandlerID int
}

func NewSocket(opts SocketOptions) (*Socket, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("socket url is required")
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultReconnectBase
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultReconnectMax
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		url:          opts.URL,
		token:        opts.Token,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		ctx:          ctx,
		cancel:       cancel,
		acks:         map[string]func(chat.Ack){},
		handlers:     map[string]map[int]chat.Handler{},
	}, nil
}

// Connect dials the server. The first dial is synchronous so callers learn
// immediately whether the session can come up; later drops reconnect in the
// background.
func (s *Socket) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
		return fmt.Errorf("socket closed")
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.wg.Add(1)
	go s.readLoop(conn)
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		HTTPClient: s.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxInboundFrameBytes)
	return conn, nil
}

func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send emits one event. When ack is non-nil the frame carries a correlation
// id and ack fires exactly once: with the server's verdict, or with an error
// status if the connection drops first.
func (s *Socket) Send(event string, payload any, ack func(chat.Ack)) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f := frame{Event: event, Payload: raw}
	if ack != nil {
		f.ID = uuid.NewString()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.connected || s.conn == nil {
		s.mu.Unlock()
		return chat.ErrNotConnected
	}
	conn := s.conn
	if ack != nil {
		s.acks[f.ID] = ack
	}
	s.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		s.mu.Lock()
		delete(s.acks, f.ID)
		s.mu.Unlock()
		return err
	}
	return nil
}

// On subscribes a handler and returns its unsubscribe function.
func (s *Socket) On(event string, h chat.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[event] == nil {
		s.handlers[event] = map[int]chat.Handler{}
	}
	id := s.nextHandlerID
	s.nextHandlerID++
	s.handlers[event][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	s.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	s.wg.Wait()
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logf("drop unparseable frame: %v", err)
			continue
		}
		if f.Event == ackEventName {
			s.deliverAck(f)
			continue
		}
		if err := validateEventPayload(f.Event, f.Payload); err != nil {
			s.logf("drop invalid %s payload: %v", f.Event, err)
			continue
		}
		s.dispatch(f)
	}
}

func (s *Socket) deliverAck(f frame) {
	s.mu.Lock()
	cb, ok := s.acks[f.ID]
	if ok {
		delete(s.acks, f.ID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	cb(chat.Ack{Status: chat.AckStatus(f.Status), Message: f.Error})
}

func (s *Socket) dispatch(f frame) {
	s.mu.Lock()
	snapshot := make([]chat.Handler, 0, len(s.handlers[f.Event]))
	for _, h := range s.handlers[f.Event] {
		snapshot = append(snapshot, h)
	}
	s.mu.Unlock()
	for _, h := range snapshot {
		h(f.Payload)
	}
}

// handleDisconnect fails every awaiting ack (the registry claim keeps this
// idempotent with later timers) and schedules a background reconnect unless
// the socket was closed deliberately.
func (s *Socket) handleDisconnect(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connected = false
	pending := s.acks
	s.acks = map[string]func(chat.Ack){}
	closed := s.closed
	s.mu.Unlock()

	for _, cb := range pending {
		cb(chat.Ack{Status: chat.AckError, Message: "connection lost"})
	}
	if closed {
		return
	}
	s.logf("socket disconnected: %v", cause)
	s.wg.Add(1)
	go s.reconnectLoop()
}

func (s *Socket) reconnectLoop() {
	defer s.wg.Done()
	delay := s.baseDelay
	for {
		if err := waitWithContext(s.ctx, delay); err != nil {
			return
		}
		conn, err := s.dial(s.ctx)
		if err != nil {
			s.logf("reconnect failed: %v", err)
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
			return
		}
		s.conn = conn
		s.connected = true
		s.mu.Unlock()
		s.logf("socket reconnected")
		s.wg.Add(1)
		go s.readLoop(conn)
		return
	}
}

func (s *Socket) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
