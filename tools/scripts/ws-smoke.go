// Command ws-smoke drives a running instant server end to end: register,
// login, two bearer-authenticated sockets for the same user, hello, echo and
// a direct message that must reach both sockets. It exits non-zero on the
// first failed step.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "instant/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

type options struct {
	base     string
	origin   string
	user     string
	password string
	register bool
	text     string
	step     time.Duration
	verbose  bool
}

func main() {
	var o options
	flag.StringVar(&o.base, "base", "http://127.0.0.1:8080", "HTTP base URL of the server")
	flag.StringVar(&o.origin, "origin", "http://localhost", "Origin header for the handshake (empty to omit)")
	flag.StringVar(&o.user, "user", "smoke", "username to register and log in with")
	flag.StringVar(&o.password, "password", "smoke-password", "password to register and log in with")
	flag.BoolVar(&o.register, "register", true, "register the user first; an existing user is tolerated")
	flag.StringVar(&o.text, "text", "hello instant 👋", "direct message text")
	flag.DurationVar(&o.step, "timeout", 7*time.Second, "per-step timeout")
	flag.BoolVar(&o.verbose, "v", false, "verbose output")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	wsURL, err := socketURL(o.base)
	if err != nil {
		return fmt.Errorf("-base: %w", err)
	}
	if err := checkOrigin(o.origin); err != nil {
		return fmt.Errorf("-origin: %w", err)
	}

	api := apiClient{base: strings.TrimRight(o.base, "/"), step: o.step}
	if o.register {
		if err := api.register(ctx, o.user, o.password); err != nil {
			return err
		}
	}
	userID, access, err := api.login(ctx, o.user, o.password)
	if err != nil {
		return err
	}

	var socks []*socket
	defer func() {
		for _, s := range socks {
			s.close()
		}
	}()
	for _, name := range []string{"A", "B"} {
		s, err := dial(ctx, name, wsURL, o.origin, access, o.step)
		if err != nil {
			return err
		}
		socks = append(socks, s)
		if err := s.awaitReady(ctx, userID); err != nil {
			return err
		}
	}
	a, b := socks[0], socks[1]
	if o.verbose {
		fmt.Printf("connected: user=%s A=%s B=%s origin=%q\n", userID, a.sessionID, b.sessionID, o.origin)
	}

	if err := a.hello(ctx); err != nil {
		return err
	}

	// The client-supplied "to" must be echoed verbatim but overwritten on relay.
	if err := a.send(ctx, v1.TypeSendDirect, map[string]any{"to": "someone-else", "text": o.text}); err != nil {
		return err
	}
	var echoed map[string]any
	if err := a.expect(ctx, v1.TypeEcho, &echoed); err != nil {
		return err
	}
	if echoed["to"] != "someone-else" || echoed["text"] != o.text {
		return fmt.Errorf("A: echo payload mismatch: %v", echoed)
	}

	for _, s := range socks {
		var direct map[string]any
		if err := s.expect(ctx, v1.TypeSendDirect, &direct, v1.TypeEcho); err != nil {
			return err
		}
		if direct["to"] != userID || direct["from"] != userID {
			return fmt.Errorf("%s: direct addressing: to=%v from=%v want %q", s.name, direct["to"], direct["from"], userID)
		}
		if direct["text"] != o.text {
			return fmt.Errorf("%s: direct text: got %v want %q", s.name, direct["text"], o.text)
		}
	}

	fmt.Printf("OK: user=%s A=%s B=%s\n", userID, a.sessionID, b.sessionID)
	return nil
}

func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	schemes := map[string]string{"http": "ws", "https": "wss"}
	ws, ok := schemes[u.Scheme]
	if !ok {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	u.Scheme = ws
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func checkOrigin(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return err
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	case u.Host == "":
		return errors.New("missing host")
	}
	return nil
}

// ---- HTTP ----

type apiClient struct {
	base string
	step time.Duration
}

func (c apiClient) post(ctx context.Context, path string, body any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.step)
	defer cancel()

	b, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	return res.StatusCode, raw, err
}

// register tolerates 400, which is what a taken username answers.
func (c apiClient) register(ctx context.Context, user, password string) error {
	status, raw, err := c.post(ctx, "/auth/register", map[string]string{
		"username": user,
		"email":    user + "@smoke.invalid",
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if status != http.StatusOK && status != http.StatusBadRequest {
		return fmt.Errorf("register: status %d: %s", status, raw)
	}
	return nil
}

func (c apiClient) login(ctx context.Context, user, password string) (userID, access string, err error) {
	status, raw, err := c.post(ctx, "/auth/login", map[string]string{"identifier": user, "password": password})
	if err != nil {
		return "", "", fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK {
		return "", "", fmt.Errorf("login: status %d: %s", status, raw)
	}
	var out struct {
		UserID      string `json:"userId"`
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("login: decode: %w", err)
	}
	if out.UserID == "" || out.AccessToken == "" {
		return "", "", errors.New("login: response lacks userId or accessToken")
	}
	return out.UserID, out.AccessToken, nil
}

// ---- websocket ----

type socket struct {
	name      string
	conn      *websocket.Conn
	step      time.Duration
	sessionID string

	inbox chan v1.Envelope
	errs  chan error
}

func dial(ctx context.Context, name, wsURL, origin, access string, step time.Duration) (*socket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, step)
	defer cancel()

	h := http.Header{"Authorization": {"Bearer " + access}}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", name, err)
	}
	if got := conn.Subprotocol(); got != "" && got != v1.Subprotocol {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("%s: subprotocol %q, want %q", name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	s := &socket{
		name:  name,
		conn:  conn,
		step:  step,
		inbox: make(chan v1.Envelope, 512),
		errs:  make(chan error, 1),
	}
	go s.pump()
	return s, nil
}

func (s *socket) pump() {
	defer close(s.inbox)
	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			s.errs <- err
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.errs <- fmt.Errorf("bad json: %w", err)
			return
		}
		if err := env.Validate(); err != nil {
			s.errs <- fmt.Errorf("bad envelope: %w", err)
			return
		}
		select {
		case s.inbox <- env:
		default:
			s.errs <- errors.New("inbox overflow")
			return
		}
	}
}

func (s *socket) close() { _ = s.conn.Close(websocket.StatusNormalClosure, "bye") }

func (s *socket) awaitReady(ctx context.Context, userID string) error {
	var p v1.ReadyPayload
	if err := s.expect(ctx, v1.TypeReady, &p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return fmt.Errorf("%s: ready without session_id", s.name)
	}
	if p.UserID != userID {
		return fmt.Errorf("%s: ready user_id %q, want %q", s.name, p.UserID, userID)
	}
	s.sessionID = p.SessionID
	return nil
}

func (s *socket) hello(ctx context.Context) error {
	if err := s.send(ctx, v1.TypeHello, nil); err != nil {
		return err
	}
	var ack v1.HelloAckPayload
	if err := s.expect(ctx, v1.TypeHelloAck, &ack, v1.TypeEcho); err != nil {
		return err
	}
	if ack.SessionID != s.sessionID {
		return fmt.Errorf("%s: hello_ack session %q, want %q", s.name, ack.SessionID, s.sessionID)
	}
	return nil
}

func (s *socket) send(ctx context.Context, typ string, payload any) error {
	env := v1.Envelope{V: v1.Version, Type: typ, ID: s.name + "-" + typ, TS: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = b
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.step)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("%s: write %s: %w", s.name, typ, err)
	}
	return nil
}

// expect reads until an envelope of type want arrives and decodes its payload
// into out. Envelopes whose type is in skip are discarded; anything else fails.
func (s *socket) expect(ctx context.Context, want string, out any, skip ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.step)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for %q: %w", s.name, want, ctx.Err())
		case err := <-s.errs:
			return fmt.Errorf("%s: waiting for %q: %w", s.name, want, err)
		case env, ok := <-s.inbox:
			switch {
			case !ok:
				return fmt.Errorf("%s: closed while waiting for %q", s.name, want)
			case env.Type == want:
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(env.Payload, out); err != nil {
					return fmt.Errorf("%s: decode %s: %w", s.name, want, err)
				}
				return nil
			case env.Type == v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				return fmt.Errorf("%s: server error %s: %s", s.name, ep.Code, ep.Message)
			case slices.Contains(skip, env.Type):
			default:
				return fmt.Errorf("%s: got %q while waiting for %q", s.name, env.Type, want)
			}
		}
	}
}
