package remote

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hyperengineering/studiosync/internal/types"
)

// ErrClientClosed is returned after Close.
var ErrClientClosed = errors.New("remote client closed")

// WSConfig configures a WSClient.
type WSConfig struct {
	URL          string
	AuthToken    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// WSClient is a Client over one persistent WebSocket connection. The
// connection is dialed on first use and redialed after it fails; all writes
// and subscriptions share it.
type WSClient struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	logger *slog.Logger

	mu     sync.Mutex
	sess   *session
	closed bool
}

var _ Client = (*WSClient)(nil)

// NewWSClient creates a client. No connection is made until first use.
func NewWSClient(cfg WSConfig) *WSClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger.With("component", "remote_client"),
	}
}

// session is one live connection and the requests riding on it.
type session struct {
	conn   Conn
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Msg
	subs    map[string]*eventQueue
	done    chan struct{}
	err     error
}

func (c *WSClient) session(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.sess != nil && !c.sess.isDone() {
		return c.sess, nil
	}

	dialCtx := ctx
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	ws, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.WithHint(errors.Wrapf(err, "dial %s", c.cfg.URL), "check remote.auth_token")
		}
		return nil, errors.Wrapf(err, "dial %s", c.cfg.URL)
	}

	s := &session{
		conn:    NewConn(ws, c.cfg.WriteTimeout),
		logger:  c.logger,
		pending: make(map[string]chan Msg),
		subs:    make(map[string]*eventQueue),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	c.sess = s
	c.logger.Info("connected", "url", c.cfg.URL)
	return s, nil
}

func (s *session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) readLoop() {
	for {
		var m Msg
		if err := s.conn.ReadJSON(&m); err != nil {
			s.fail(err)
			return
		}

		switch m.Type {
		case MsgAck, MsgNack:
			s.mu.Lock()
			ch, ok := s.pending[m.ReqID]
			delete(s.pending, m.ReqID)
			s.mu.Unlock()
			if ok {
				ch <- m
			}
		case MsgEvent:
			s.mu.Lock()
			q := s.subs[m.SubID]
			s.mu.Unlock()
			if q != nil {
				q.push(m.event())
			}
		case MsgSynced:
			s.logger.Debug("subscription synced", "collection", m.Collection, "sub_id", m.SubID)
			s.mu.Lock()
			q := s.subs[m.SubID]
			s.mu.Unlock()
			if q != nil {
				q.push(syncedEvent(m.Collection))
			}
		case MsgError:
			s.mu.Lock()
			q := s.subs[m.SubID]
			delete(s.subs, m.SubID)
			ch := s.pending[m.ReqID]
			delete(s.pending, m.ReqID)
			s.mu.Unlock()
			if q != nil {
				q.fail(nackError(m))
			}
			if ch != nil {
				ch <- Msg{Type: MsgNack, ReqID: m.ReqID, Code: m.Code, Message: m.Message}
			}
		default:
			s.logger.Warn("unknown message type", "type", m.Type)
		}
	}
}

// fail ends the session: waiting writes see a transient error and
// subscriptions end with one.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return
	}
	s.err = Transient(errors.Wrap(err, "connection lost"))
	close(s.done)
	subs := s.subs
	s.subs = make(map[string]*eventQueue)
	s.pending = make(map[string]chan Msg)
	s.mu.Unlock()

	s.conn.Close()
	for _, q := range subs {
		q.fail(s.err)
	}
	s.logger.Warn("connection lost", "error", err)
}

func (s *session) request(ctx context.Context, m Msg) (Msg, error) {
	m.ReqID = uuid.NewString()
	ch := make(chan Msg, 1)

	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return Msg{}, s.err
	}
	s.pending[m.ReqID] = ch
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.pending, m.ReqID)
		s.mu.Unlock()
	}

	if err := s.conn.WriteJSON(m); err != nil {
		forget()
		s.fail(err)
		return Msg{}, Transient(errors.Wrap(err, "send request"))
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-s.done:
		return Msg{}, s.err
	case <-ctx.Done():
		forget()
		return Msg{}, Transient(ctx.Err())
	}
}

func (c *WSClient) mutate(ctx context.Context, m Msg) (int64, error) {
	s, err := c.session(ctx)
	if err != nil {
		return 0, Transient(err)
	}
	reply, err := s.request(ctx, m)
	if err != nil {
		return 0, err
	}
	if reply.Type == MsgNack {
		return 0, nackError(reply)
	}
	return reply.Version, nil
}

// WriteRecord implements Client.
func (c *WSClient) WriteRecord(ctx context.Context, col types.Collection, id string, payload types.Payload, baseVersion int64) (int64, error) {
	return c.mutate(ctx, Msg{
		Type:        MsgWrite,
		Collection:  col,
		RecordID:    id,
		Payload:     payload,
		BaseVersion: baseVersion,
	})
}

// DeleteRecord implements Client.
func (c *WSClient) DeleteRecord(ctx context.Context, col types.Collection, id string, baseVersion int64) (int64, error) {
	return c.mutate(ctx, Msg{
		Type:        MsgDelete,
		Collection:  col,
		RecordID:    id,
		BaseVersion: baseVersion,
	})
}

// Subscribe implements Client.
func (c *WSClient) Subscribe(ctx context.Context, col types.Collection) iter.Seq2[types.ChangeEvent, error] {
	return func(yield func(types.ChangeEvent, error) bool) {
		s, err := c.session(ctx)
		if err != nil {
			yield(types.ChangeEvent{}, Transient(err))
			return
		}

		subID := uuid.NewString()
		q := newEventQueue()
		s.mu.Lock()
		if s.isDone() {
			s.mu.Unlock()
			yield(types.ChangeEvent{}, s.err)
			return
		}
		s.subs[subID] = q
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			_, live := s.subs[subID]
			delete(s.subs, subID)
			s.mu.Unlock()
			if live && !s.isDone() {
				if err := s.conn.WriteJSON(Msg{Type: MsgUnsubscribe, SubID: subID}); err != nil {
					s.logger.Debug("unsubscribe write failed", "sub_id", subID, "error", err)
				}
			}
		}()

		if err := s.conn.WriteJSON(Msg{Type: MsgSubscribe, SubID: subID, Collection: col}); err != nil {
			s.fail(err)
			yield(types.ChangeEvent{}, Transient(err))
			return
		}

		q.stream(ctx, yield)
	}
}

// Close drops the connection. Outstanding operations fail as transient.
func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s != nil {
		s.fail(ErrClientClosed)
	}
	return nil
}
