// Package sessionapi exposes the session reconciler and lifecycle operations
// over HTTP to the mobile view layer.
package sessionapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/metrics"
	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/prefs"
	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/session"
	"github.com/aripal2k/P92-Parking-sub003/cmd/security/pin"
)

// Handler wires HTTP session endpoints to the session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	prefs    prefs.Store
	pins     pin.Config
	metrics  *metrics.Metrics

	limiter *ipLimiter

	// now is test-injectable.
	now func() time.Time
}

// NewHandler constructs a session API Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, store prefs.Store, pins pin.Config, m *metrics.Metrics) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("sessionapi: nil session service")
	}
	if store == nil {
		return nil, errors.New("sessionapi: nil preference store")
	}
	if m == nil {
		m = metrics.New()
	}

	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		prefs:    store,
		pins:     pins,
		metrics:  m,
		limiter:  newIPLimiter(cfg.RateMax, cfg.RateWindow),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires session routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/v1/session/resume", h.handleResume)
	mux.HandleFunc("/v1/session/touch", h.handleTouch)
	mux.HandleFunc("/v1/session/clear", h.handleClear)
	mux.HandleFunc("/v1/session", h.handleSessionGet)
	mux.HandleFunc("/v1/countdown/start", h.handleCountdownStart)
	mux.HandleFunc("/v1/parking/start", h.handleParkingStart)
	mux.HandleFunc("/v1/parking/end", h.handleParkingEnd)
	mux.HandleFunc("/v1/pin", h.handleSetPIN)
}

// allowMutation enforces method and rate limit on mutating routes. It writes
// the response itself and returns false when the request must not proceed.
func (h *Handler) allowMutation(w http.ResponseWriter, r *http.Request, now time.Time) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return false
	}
	if !h.limiter.Allow(clientIP(r, h.cfg.TrustProxy), now) {
		writeRateLimited(w, h.cfg.RateWindow)
		return false
	}
	return true
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req deviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	out, err := h.sessions.Reconcile(r.Context(), now, deviceID)
	if err != nil {
		h.log.Error("resume.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "reconciliation failed")
		return
	}

	h.metrics.ObserveReconcile(outcomeLabel(out), out.ClearedReason)
	writeJSON(w, http.StatusOK, toSessionResponse(out))
}

func (h *Handler) handleTouch(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req deviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	if err := h.sessions.MarkActive(r.Context(), now, deviceID); err != nil {
		h.log.Error("touch.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "touch failed")
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req deviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	if err := h.sessions.Clear(r.Context(), deviceID); err != nil {
		h.log.Error("clear.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "clear failed")
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	out, err := h.sessions.Snapshot(r.Context(), h.now(), deviceID)
	if err != nil {
		h.log.Error("session.get.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "snapshot failed")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(out))
}

func (h *Handler) handleCountdownStart(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req countdownStartRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	out, err := h.sessions.StartCountdown(r.Context(), now, deviceID, req.Seconds)
	if errors.Is(err, session.ErrInvalidCountdown) {
		writeError(w, http.StatusBadRequest, "invalid_countdown", "countdown duration out of bounds")
		return
	}
	if err != nil {
		h.log.Error("countdown.start.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "countdown start failed")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(out))
}

func (h *Handler) handleParkingStart(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req deviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	out, err := h.sessions.StartParking(r.Context(), now, deviceID)
	if err != nil {
		h.log.Error("parking.start.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "parking start failed")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(out))
}

func (h *Handler) handleParkingEnd(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req parkingEndRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	if !h.checkPIN(w, r, deviceID, req.PIN) {
		return
	}

	elapsed, err := h.sessions.EndParking(r.Context(), now, deviceID)
	if errors.Is(err, session.ErrNoActiveParking) {
		writeError(w, http.StatusConflict, "no_active_parking", "no parking session is running")
		return
	}
	if err != nil {
		h.log.Error("parking.end.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "parking end failed")
		return
	}

	writeJSON(w, http.StatusOK, parkingEndResponse{ElapsedSeconds: int64(elapsed / time.Second)})
}

// checkPIN enforces the wallet PIN when one is set for the device. It writes
// the response itself and returns false when the request must not proceed.
func (h *Handler) checkPIN(w http.ResponseWriter, r *http.Request, deviceID, candidate string) bool {
	hash, err := h.prefs.Get(r.Context(), deviceID, session.KeyWalletPINHash)
	if errors.Is(err, prefs.ErrNotFound) {
		return true // no PIN configured
	}
	if err != nil {
		h.log.Error("pin.load.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "pin check failed")
		return false
	}

	if strings.TrimSpace(candidate) == "" {
		writeError(w, http.StatusForbidden, "pin_required", "wallet pin is required")
		return false
	}

	ok, err := h.pins.Verify(hash, candidate)
	if err != nil {
		// Stored hash is unusable; refuse rather than bypass.
		h.log.Error("pin.verify.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusForbidden, "pin_invalid", "wallet pin rejected")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "pin_invalid", "wallet pin rejected")
		return false
	}
	return true
}

func (h *Handler) handleSetPIN(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.allowMutation(w, r, now) {
		return
	}

	var req setPINRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id", "device_id is required")
		return
	}

	hash, err := h.pins.Hash(req.PIN)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pin", err.Error())
		return
	}

	if err := h.prefs.Set(r.Context(), deviceID, session.KeyWalletPINHash, hash); err != nil {
		h.log.Error("pin.set.fail", "device_id", deviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "pin update failed")
		return
	}

	h.log.Info("pin.set", "device_id", deviceID)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func outcomeLabel(o session.Outcome) string {
	if o.CountdownElapsed {
		return "countdown_elapsed"
	}
	return string(o.State)
}

func toSessionResponse(o session.Outcome) sessionResponse {
	return sessionResponse{
		State:            string(o.State),
		RemainingSeconds: o.RemainingSeconds,
		ElapsedSeconds:   int64(o.Elapsed / time.Second),
		CountdownElapsed: o.CountdownElapsed,
	}
}
