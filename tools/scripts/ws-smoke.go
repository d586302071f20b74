// Package main provides a CI-friendly WebSocket smoke test for the AutoSpot
// tick gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - watch -> session_state snapshot
//   - tick streaming while a timer is active
//   - unwatch stops the stream
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/aripal2k/P92-Parking-sub003/shared/contracts/tick/v1"
)

const (
	defaultSubprotocol = "autospot.tick.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL      = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send")
		deviceID   = flag.String("device", "smoke-device-1", "Device ID for the hello handshake")
		expectTick = flag.Bool("expect-tick", false, "Require at least one tick (device must have an active timer)")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *deviceID, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: session=%s device=%s origin=%q\n", c.sessionID, *deviceID, *origin)
	}

	state := mustWatch(root, c, *timeout)
	if *verbose {
		fmt.Printf("session_state: state=%s remaining=%d elapsed=%d\n",
			state.State, state.RemainingSeconds, state.ElapsedSeconds)
	}

	if *expectTick {
		if state.State == "cleared" {
			fatalf("-expect-tick set but session is cleared for device %q", *deviceID)
		}
		tick := c.mustReadUntilType(root, v1.TypeTick, *timeout)

		var p v1.TickPayload
		if err := json.Unmarshal(tick.Payload, &p); err != nil {
			fatalf("unmarshal tick payload: %v", err)
		}
		if p.State != state.State {
			fatalf("tick state mismatch: got=%q want=%q", p.State, state.State)
		}
		if p.ServerTS.IsZero() {
			fatalf("tick server_ts missing/zero")
		}
		if *verbose {
			fmt.Printf("tick: state=%s remaining=%d elapsed=%d\n", p.State, p.RemainingSeconds, p.ElapsedSeconds)
		}
	}

	mustUnwatch(root, c, *timeout)
	mustAssertNoType(root, c, v1.TypeTick, 1500*time.Millisecond)

	fmt.Printf("OK: session=%s device=%s state=%s\n", c.sessionID, *deviceID, state.State)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, deviceID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{DeviceID: deviceID}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id")
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustWatch(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.SessionStatePayload {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeWatch,
		ID:      "smoke-watch",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.WatchPayload{}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	state := c.mustReadUntilType(parent, v1.TypeSessionState, stepTimeout)

	var p v1.SessionStatePayload
	if err := json.Unmarshal(state.Payload, &p); err != nil {
		fatalf("unmarshal session_state payload: %v", err)
	}
	if strings.TrimSpace(p.State) == "" {
		fatalf("session_state missing state")
	}
	return p
}

func mustUnwatch(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeUnwatch,
		ID:   "smoke-unwatch",
		TS:   time.Now().UTC(),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	// Ticks already in flight when unwatch lands are fine; give the stream a
	// moment to settle, then require silence.
	settle := time.After(500 * time.Millisecond)
	draining := true
	for draining {
		select {
		case <-settle:
			draining = false
		case <-c.inbox:
		}
	}

	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly")
			}
			fatalf("connection closed unexpectedly: %v", err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly")
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received after unwatch", forbiddenType)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q", wantType)
			}
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			// Ticks may interleave with any expected frame.
			if env.Type == v1.TypeTick {
				continue
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
