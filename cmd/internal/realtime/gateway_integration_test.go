package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/metrics"
	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/prefs"
	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/session"
	v1 "github.com/aripal2k/P92-Parking-sub003/shared/contracts/tick/v1"
)

func newTestGateway(t *testing.T, store prefs.Store, cfg session.Config) *Gateway {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewService(cfg, store, log)

	g, err := NewGateway(log, sessions, metrics.New())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func startWSTestServer(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(g.HandleWS))
}

func dialWS(t *testing.T, serverURL, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u := "ws" + strings.TrimPrefix(serverURL, "http")

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	if maxReads <= 0 {
		maxReads = 1
	}
	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func TestGateway_HelloWatchStreamsCountdownTicks(t *testing.T) {
	t.Setenv("AUTOSPOT_WS_ORIGIN_REQUIRED", "false")

	cfg := session.DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond

	store := prefs.NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()
	seed := map[string]string{
		session.KeyAppLastActiveTime:  now.Format(time.RFC3339),
		session.KeyCountdownStartTime: now.Format(time.RFC3339),
		session.KeyCountdownSeconds:   "120",
	}
	for k, v := range seed {
		if err := store.Set(ctx, "dev-1", k, v); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	g := newTestGateway(t, store, cfg)
	ts := startWSTestServer(t, g)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		Payload: mustJSONRaw(t, v1.HelloPayload{DeviceID: "dev-1"}),
	})

	ack := readUntilType(t, conn, v1.TypeHelloAck, 3)
	var ackPayload v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &ackPayload); err != nil {
		t.Fatalf("unmarshal hello_ack: %v", err)
	}
	if ackPayload.SessionID == "" {
		t.Fatalf("hello_ack missing session_id")
	}

	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeWatch})

	state := readUntilType(t, conn, v1.TypeSessionState, 5)
	var statePayload v1.SessionStatePayload
	if err := json.Unmarshal(state.Payload, &statePayload); err != nil {
		t.Fatalf("unmarshal session_state: %v", err)
	}
	if statePayload.State != "countdown" {
		t.Fatalf("state=%q want=countdown", statePayload.State)
	}
	if statePayload.RemainingSeconds <= 0 || statePayload.RemainingSeconds > 120 {
		t.Fatalf("remaining_seconds=%d out of range", statePayload.RemainingSeconds)
	}

	tick := readUntilType(t, conn, v1.TypeTick, 10)
	var tickPayload v1.TickPayload
	if err := json.Unmarshal(tick.Payload, &tickPayload); err != nil {
		t.Fatalf("unmarshal tick: %v", err)
	}
	if tickPayload.State != "countdown" {
		t.Fatalf("tick state=%q want=countdown", tickPayload.State)
	}
	if tickPayload.ServerTS.IsZero() {
		t.Fatalf("tick missing server_ts")
	}
}

func TestGateway_WatchBeforeHelloRejected(t *testing.T) {
	t.Setenv("AUTOSPOT_WS_ORIGIN_REQUIRED", "false")

	g := newTestGateway(t, prefs.NewMemoryStore(), session.DefaultConfig())
	ts := startWSTestServer(t, g)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeWatch})

	errEnv := readUntilType(t, conn, v1.TypeError, 3)
	var errPayload v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &errPayload); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if errPayload.Code != "hello_required" {
		t.Fatalf("code=%q want=hello_required", errPayload.Code)
	}
}

func TestGateway_WatchClearedSessionSendsClearedState(t *testing.T) {
	t.Setenv("AUTOSPOT_WS_ORIGIN_REQUIRED", "false")

	store := prefs.NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()

	// Parking started but the app has been inactive past the threshold,
	// so the watch must observe a cleared session.
	stale := now.Add(-30 * time.Minute)
	if err := store.Set(ctx, "dev-1", session.KeyAppLastActiveTime, stale.Format(time.RFC3339)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Set(ctx, "dev-1", session.KeyParkingStartTime, stale.Format(time.RFC3339)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	g := newTestGateway(t, store, session.DefaultConfig())
	ts := startWSTestServer(t, g)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		Payload: mustJSONRaw(t, v1.HelloPayload{DeviceID: "dev-1"}),
	})
	readUntilType(t, conn, v1.TypeHelloAck, 3)

	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeWatch})

	state := readUntilType(t, conn, v1.TypeSessionState, 5)
	var statePayload v1.SessionStatePayload
	if err := json.Unmarshal(state.Payload, &statePayload); err != nil {
		t.Fatalf("unmarshal session_state: %v", err)
	}
	if statePayload.State != "cleared" {
		t.Fatalf("state=%q want=cleared", statePayload.State)
	}

	// The clearing must have reached the store.
	if _, err := store.Get(ctx, "dev-1", session.KeyParkingStartTime); err == nil {
		t.Fatalf("parking_start_time should be removed after inactivity clear")
	}
}

func TestGateway_DisallowedOriginRejected(t *testing.T) {
	t.Setenv("AUTOSPOT_WS_ORIGIN_REQUIRED", "true")
	t.Setenv("AUTOSPOT_WS_ALLOWED_ORIGINS", "http://localhost")

	g := newTestGateway(t, prefs.NewMemoryStore(), session.DefaultConfig())
	ts := startWSTestServer(t, g)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "http://evil.example")
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unexpected")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 403, got status=%d err=%v", status, err)
	}
}

func TestGateway_BadJSONGetsErrorEnvelope(t *testing.T) {
	t.Setenv("AUTOSPOT_WS_ORIGIN_REQUIRED", "false")

	g := newTestGateway(t, prefs.NewMemoryStore(), session.DefaultConfig())
	ts := startWSTestServer(t, g)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}

	errEnv := readUntilType(t, conn, v1.TypeError, 3)
	var errPayload v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &errPayload); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if errPayload.Code != "bad_json" {
		t.Fatalf("code=%q want=bad_json", errPayload.Code)
	}
}

func TestGateway_RateLimitCloses(t *testing.T) {
	t.Setenv("AUTOSPOT_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("AUTOSPOT_WS_RATE_EVENTS", "3")
	t.Setenv("AUTOSPOT_WS_RATE_WINDOW", "1m")

	g := newTestGateway(t, prefs.NewMemoryStore(), session.DefaultConfig())
	ts := startWSTestServer(t, g)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	// Burst past the event budget; the gateway closes with a policy violation.
	for i := 0; i < 10; i++ {
		env := v1.Envelope{V: v1.Version, Type: v1.TypeUnwatch, ID: strconv.Itoa(i)}
		b, _ := json.Marshal(env)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		werr := conn.Write(ctx, websocket.MessageText, b)
		cancel()
		if werr != nil {
			return // closed on us, which is the expected outcome
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, rerr := conn.Read(ctx)
		if rerr != nil {
			return // connection torn down after rate limit
		}
	}
}
