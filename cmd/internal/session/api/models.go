package sessionapi

// Request/response bodies for the session API. DeviceID identifies the app
// install; the mobile client sends the same value it scopes its local
// preference cache with.

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type countdownStartRequest struct {
	DeviceID string `json:"device_id"`
	Seconds  int64  `json:"seconds,omitempty"`
}

type parkingEndRequest struct {
	DeviceID string `json:"device_id"`
	PIN      string `json:"pin,omitempty"`
}

type setPINRequest struct {
	DeviceID string `json:"device_id"`
	PIN      string `json:"pin"`
}

type sessionResponse struct {
	State            string `json:"state"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
	ElapsedSeconds   int64  `json:"elapsed_seconds,omitempty"`
	CountdownElapsed bool   `json:"countdown_elapsed,omitempty"`
}

type parkingEndResponse struct {
	ElapsedSeconds int64 `json:"elapsed_seconds"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
