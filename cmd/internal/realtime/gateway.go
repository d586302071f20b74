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
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/metrics"
	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/session"
	v1 "github.com/aripal2k/P92-Parking-sub003/shared/contracts/tick/v1"
)

const (
	wsSubprotocolV1 = "autospot.tick.v1"

	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for AutoSpot timer streaming.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, and streams per-second tick envelopes for a device's active
// countdown or parking timer. The resume reconciliation runs when a client
// starts watching, so a reconnecting app always sees a state its local
// cache agrees with.
type Gateway struct {
	log      *slog.Logger
	sessions *session.Service
	metrics  *metrics.Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	tickInterval time.Duration

	now func() time.Time
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, sessions *session.Service, m *metrics.Metrics) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if sessions == nil {
		return nil, errors.New("realtime: nil session service")
	}
	if m == nil {
		return nil, errors.New("realtime: nil metrics")
	}

	g := &Gateway{log: log, sessions: sessions, metrics: m}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("AUTOSPOT_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("AUTOSPOT_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("AUTOSPOT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("AUTOSPOT_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("AUTOSPOT_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("AUTOSPOT_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("AUTOSPOT_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("AUTOSPOT_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("AUTOSPOT_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("AUTOSPOT_WS_RATE_WINDOW", rateLimitWindow)

	g.tickInterval = sessions.Config().TickInterval
	g.now = func() time.Time { return time.Now().UTC() }

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the tick loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewSessionID(g.now())
	client := NewClient(sessionID, g.sendQueueSize)

	g.metrics.WSClients.Inc()
	defer g.metrics.WSClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		watch     *watcher
	)

	// shutdown is idempotent. It does NOT close client.Send; the watcher
	// goroutine may still be holding a reference.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if watch != nil {
				watch.stop()
				watch = nil
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := g.now()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeWatch:
			if client.DeviceID == "" {
				g.trySendError(ctx, client, "hello_required", "send hello first")
				continue readLoop
			}

			// One watch per connection: restarting re-runs the resume
			// reconciliation, which is what a re-foregrounded app wants.
			if watch != nil {
				watch.stop()
			}
			watch = g.startWatch(ctx, client)

		case v1.TypeUnwatch:
			if watch != nil {
				watch.stop()
				watch = nil
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onHello(_ context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	deviceID := strings.TrimSpace(p.DeviceID)
	if deviceID == "" {
		return errors.New("missing device_id")
	}
	client.DeviceID = deviceID

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID})
	ack := g.newEnvelope(v1.TypeHelloAck, ackPayload)

	if !g.enqueue(client, ack) {
		return errors.New("backpressure: hello.ack")
	}
	return nil
}

// watcher is the per-connection tick streaming task. stop is idempotent and
// waits for the streaming goroutine to finish, so a restarted watch never
// races an old one on client.Send.
type watcher struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (w *watcher) stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

// startWatch reconciles the device's persisted timers and streams ticks until
// the watch is stopped, the connection dies, or the session clears. When a
// running countdown elapses mid-watch, the stream rolls into the parking
// timer the same way the resume path does.
func (g *Gateway) startWatch(parent context.Context, client *Client) *watcher {
	ctx, cancel := context.WithCancel(parent)
	w := &watcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)

		for {
			out, err := g.sessions.Reconcile(ctx, g.now(), client.DeviceID)
			if err != nil {
				if ctx.Err() == nil {
					g.trySendError(ctx, client, "reconcile_failed", "session state unavailable")
					g.log.Error("ws.watch.reconcile.fail", "device_id", client.DeviceID, "err", err)
				}
				return
			}

			statePayload, _ := json.Marshal(v1.SessionStatePayload{
				State:            string(out.State),
				RemainingSeconds: out.RemainingSeconds,
				ElapsedSeconds:   int64(out.Elapsed / time.Second),
				CountdownElapsed: out.CountdownElapsed,
			})
			if !g.enqueue(client, g.newEnvelope(v1.TypeSessionState, statePayload)) {
				return
			}

			if out.State == session.StateCleared {
				return
			}

			if !g.streamTicks(ctx, client, out) {
				return
			}
			// Countdown finished; loop to reconcile the rollover into parking.
		}
	}()

	return w
}

// streamTicks forwards ticker updates until the timer completes or the watch
// ends. It returns true when the countdown elapsed and the caller should
// reconcile again.
func (g *Gateway) streamTicks(ctx context.Context, client *Client, out session.Outcome) bool {
	tk := session.NewTicker(g.tickInterval, out)
	tk.Start(ctx)
	defer tk.Stop()

	countdownDone := false
	for {
		select {
		case <-ctx.Done():
			return false
		case <-client.Done():
			return false
		case tick, ok := <-tk.Ticks():
			if !ok {
				return countdownDone
			}
			if tick.Done && tick.State == session.StateCountdown {
				countdownDone = true
			}

			payload, _ := json.Marshal(v1.TickPayload{
				State:            string(tick.State),
				RemainingSeconds: tick.RemainingSeconds,
				ElapsedSeconds:   int64(tick.Elapsed / time.Second),
				ServerTS:         tick.At,
			})
			// Drop on backpressure: the next tick supersedes this one.
			if g.enqueue(client, g.newEnvelope(v1.TypeTick, payload)) {
				g.metrics.TicksSent.Inc()
			}
		}
	}
}

// ---- send helpers ----

func (g *Gateway) trySendError(_ context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(client, g.newEnvelope(v1.TypeError, p))
}

func (g *Gateway) enqueue(client *Client, env v1.Envelope) bool {
	select {
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func (g *Gateway) newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	ts := g.now()
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
