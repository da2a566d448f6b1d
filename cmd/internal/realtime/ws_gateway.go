package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	authapi "instant/cmd/internal/auth/api"
	"instant/cmd/internal/auth/session"
	"instant/cmd/internal/errlog"
	"instant/cmd/internal/httpx"
	"instant/cmd/internal/metrics"
	"instant/cmd/internal/origin"
	"instant/cmd/security/token"
	v1 "instant/shared/contracts/realtime/v1"
)

const (
	closeGrace      = time.Second
	maxPingFailures = 3
)

// Authenticator verifies the handshake access token. *session.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (string, error)
}

// WSGateway is the websocket entrypoint.
//
// The handshake is checked before upgrade: origin policy, then the access
// token (Authorization header or ?token=). An admitted connection is bound
// to its subject for its whole life; the token is not re-checked.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	auth    Authenticator
	cfg     Config
	origins *origin.Matcher
	now     func() time.Time
}

// NewWSGateway constructs a gateway. A nil hub gets a private one.
func NewWSGateway(log *slog.Logger, hub *Hub, auth Authenticator, cfg Config) (*WSGateway, error) {
	if auth == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.withDefaults()

	origins, err := origin.NewMatcher(cfg.AllowedOrigins)
	if err != nil {
		return nil, fmt.Errorf("realtime: allowed origins: %w", err)
	}

	return &WSGateway{
		log:     log,
		hub:     hub,
		auth:    auth,
		cfg:     cfg,
		origins: origins,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Hub returns the gateway's room registry.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the handshake, upgrades and runs the connection loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if err := g.enforceOrigin(originHeader); err != nil {
		metrics.WSHandshakeRejects.WithLabelValues("origin").Inc()
		g.log.Info("ws.reject.origin", "err", err, "origin", originHeader, "remote", r.RemoteAddr)
		httpx.WriteError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	userID, err := g.auth.Authenticate(r.Context(), handshakeToken(r))
	if err != nil {
		g.rejectAuth(w, r, err)
		return
	}

	opts := &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		InsecureSkipVerify: g.cfg.DevInsecure,
	}
	// Accept runs its own same-host check; authorize the origin we already admitted.
	if p := origin.AcceptPattern(originHeader); p != "" {
		opts.OriginPatterns = []string{p}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	g.serve(r.Context(), conn, userID)
}

// wsConn is one admitted connection and the goroutines serving it.
type wsConn struct {
	g      *WSGateway
	conn   *websocket.Conn
	client *Client
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (g *WSGateway) serve(parent context.Context, conn *websocket.Conn, userID string) {
	now := g.now()
	sessionID, err := NewSessionID(now)
	if err != nil {
		errlog.LogError(g.log, "ws.session_id.fail", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	c := &wsConn{
		g:      g,
		conn:   conn,
		client: NewClient(userID, sessionID, g.cfg.SendQueueSize),
		log:    g.log.With("session_id", sessionID, "user_id", userID),
		ctx:    ctx,
		cancel: cancel,
	}

	g.hub.Join(userID, c.client)
	if g.cfg.BroadcastRoom != "" {
		g.hub.Join(g.cfg.BroadcastRoom, c.client)
	}
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()
	c.log.Info("ws.connect", "subprotocol", conn.Subprotocol())

	ready, _ := json.Marshal(v1.ReadyPayload{
		SessionID: sessionID,
		UserID:    userID,
		Rooms:     g.hub.Rooms(sessionID),
	})
	c.send(newEnvelope(v1.TypeReady, ready, now))

	writerDone := spawn(c.writeLoop)
	heartbeatDone := spawn(c.heartbeat)

	c.readLoop()
	c.close(websocket.StatusNormalClosure, "bye")

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func spawn(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

// close leaves every room before stopping the client so emitters never see
// a member mid-teardown. client.Send stays open.
func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.g.hub.LeaveAll(c.client.SessionID)
		c.client.Close()
		_ = c.conn.Close(code, reason)
		c.cancel()
		c.log.Info("ws.disconnect", "code", code.String(), "reason", reason)
	})
}

func (c *wsConn) stopped() bool {
	select {
	case <-c.ctx.Done():
		return true
	case <-c.client.Done():
		return true
	default:
		return false
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.client.Done():
			return
		case env := <-c.client.Send:
			if err := c.write(env); err != nil {
				c.log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (c *wsConn) write(env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.g.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, b)
}

// heartbeat pings on every tick and closes the connection after
// maxPingFailures consecutive misses.
func (c *wsConn) heartbeat() {
	tick := time.NewTicker(c.g.cfg.HeartbeatInterval)
	defer tick.Stop()

	misses := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.client.Done():
			return
		case <-tick.C:
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.g.cfg.HeartbeatTimeout)
		err := c.conn.Ping(ctx)
		cancel()
		if err == nil {
			misses = 0
			continue
		}
		misses++
		c.log.Info("ws.ping.fail", "failures", misses, "err", err)
		if misses >= maxPingFailures {
			c.close(websocket.StatusGoingAway, "heartbeat failed")
			return
		}
	}
}

func (c *wsConn) readLoop() {
	limiter := NewRateLimiter(c.g.cfg.RateEvents, c.g.cfg.RateWindow)
	for {
		env, err := c.read()
		if err != nil {
			f := classifyReadErr(err)
			if f.recoverable {
				c.sendError("bad_json", "invalid JSON")
				continue
			}
			if f.reason == reasonReadFailed {
				c.log.Info("ws.read.fail", "err", err)
			}
			c.close(f.code, f.reason)
			return
		}

		now := c.g.now()
		if !limiter.Allow(now) {
			c.sendError("rate_limited", "too many events")
			c.close(websocket.StatusPolicyViolation, "rate limited")
			return
		}
		if err := env.Validate(); err != nil {
			c.sendError("bad_envelope", err.Error())
			continue
		}
		c.dispatch(env, now)
	}
}

func (c *wsConn) read() (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.g.cfg.ReadIdleTimeout)
	defer cancel()

	mt, data, err := c.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	err = json.Unmarshal(data, &env)
	return env, err
}

// dispatch echoes env to its sender, then runs the type-specific handler.
func (c *wsConn) dispatch(env v1.Envelope, now time.Time) {
	metrics.WSEvents.WithLabelValues(eventLabel(env.Type)).Inc()
	c.send(newEnvelope(v1.TypeEcho, env.Payload, now))

	switch env.Type {
	case v1.TypeHello:
		ack, _ := json.Marshal(v1.HelloAckPayload{SessionID: c.client.SessionID})
		if !c.send(newEnvelope(v1.TypeHelloAck, ack, now)) {
			c.log.Info("ws.hello.dropped")
		}
	case v1.TypeSendDirect:
		if err := c.g.onSendDirect(c.client, env, now); err != nil {
			c.sendError("bad_payload", err.Error())
		}
	}
}

// send queues env for the writer; a full queue drops it.
func (c *wsConn) send(env v1.Envelope) bool {
	if c.stopped() {
		return false
	}
	if !c.client.offer(env) {
		metrics.WSDropped.Inc()
		return false
	}
	return true
}

func (c *wsConn) sendError(code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	c.send(newEnvelope(v1.TypeError, p, c.g.now()))
}

// onSendDirect relays a direct message. Both "to" and "from" are set to the
// sender's subject, so the message reaches the sender's own connections.
// Other payload fields pass through untouched.
func (g *WSGateway) onSendDirect(client *Client, env v1.Envelope, now time.Time) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &fields); err != nil || fields == nil {
		return errors.New("payload must be a JSON object")
	}

	subject, _ := json.Marshal(client.UserID)
	fields["to"] = subject
	fields["from"] = subject

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	n := g.hub.Emit(client.UserID, newEnvelope(v1.TypeSendDirect, payload, now))
	g.log.Debug("ws.direct.emit", "session_id", client.SessionID, "to", client.UserID, "delivered", n)
	return nil
}

// ---- handshake ----

// handshakeToken returns the access token from the Authorization header,
// falling back to the token query parameter ("<scheme> <token>" or bare).
func handshakeToken(r *http.Request) string {
	if raw := token.FromAuthorization(r.Header.Get("Authorization")); raw != "" {
		return raw
	}
	q := strings.TrimSpace(r.URL.Query().Get("token"))
	if strings.ContainsAny(q, " \t") {
		return token.FromAuthorization(q)
	}
	return q
}

func (g *WSGateway) rejectAuth(w http.ResponseWriter, r *http.Request, err error) {
	status := authapi.StatusFor(err)
	msg := session.Message(err)
	if msg == "" {
		msg = session.MsgTryAgain
	}

	reason := "auth_invalid"
	switch status {
	case http.StatusUnauthorized:
		reason = "auth_missing"
	case http.StatusInternalServerError:
		reason = "auth_error"
		errlog.LogError(g.log, "ws.auth.fail", err)
	}
	metrics.WSHandshakeRejects.WithLabelValues(reason).Inc()
	g.log.Info("ws.reject.auth", "reason", reason, "remote", r.RemoteAddr)
	httpx.WriteError(w, status, msg)
}

func (g *WSGateway) enforceOrigin(o string) error {
	if o == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if g.origins.Empty() {
		return errors.New("origin not allowed (no allowlist)")
	}
	if !g.origins.Allowed(o) {
		return fmt.Errorf("origin not allowed: %s", o)
	}
	return nil
}

// eventLabel keeps the metrics label set bounded.
func eventLabel(typ string) string {
	switch typ {
	case v1.TypeHello, v1.TypeSendDirect:
		return typ
	default:
		return "other"
	}
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

const reasonReadFailed = "read failed"

// readFailure says how the read loop reacts to a read error.
type readFailure struct {
	code        websocket.StatusCode
	reason      string
	recoverable bool
}

func classifyReadErr(err error) readFailure {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case websocket.CloseStatus(err) != -1:
		return readFailure{code: websocket.StatusNormalClosure, reason: "peer closed"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readFailure{code: websocket.StatusNormalClosure, reason: "context done"}
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readFailure{code: websocket.StatusAbnormalClosure, reason: "conn closed"}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return readFailure{recoverable: true}
	default:
		return readFailure{code: websocket.StatusAbnormalClosure, reason: reasonReadFailed}
	}
}
