package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Tick protocol frames
	// are small control messages; anything larger is hostile or broken.
	maxFrameBytes = 16 << 10 // 16 KiB
)

const (
	// Heartbeat defaults (can be overridden by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (client events per window).
	// Clients only send hello/watch/unwatch, so this is generous.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
