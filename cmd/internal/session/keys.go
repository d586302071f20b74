package session

// Preference keys persisted per device. Wire-stable: the mobile app reads the
// same names from its local preference cache.
const (
	// KeyAppLastActiveTime is the last moment the app was known foregrounded.
	KeyAppLastActiveTime = "app_last_active_time"

	// KeyParkingStartTime is the start of an active parking session.
	KeyParkingStartTime = "parking_start_time"

	// KeyCountdownStartTime is the start of a countdown-to-parking timer.
	KeyCountdownStartTime = "countdown_start_time"

	// KeyCountdownSeconds is the configured countdown duration.
	KeyCountdownSeconds = "countdown_seconds"

	// KeyWalletPINHash is the Argon2id hash of the device's wallet PIN.
	// It is not session state and survives reconciliation clears.
	KeyWalletPINHash = "wallet_pin_hash"
)

// sessionKeys are the fields removed when reconciliation decides the session
// state is stale. KeyAppLastActiveTime is refreshed on every foreground touch
// and is left in place.
var sessionKeys = []string{
	KeyParkingStartTime,
	KeyCountdownStartTime,
	KeyCountdownSeconds,
}

// countdownKeys are the fields removed when only the countdown is invalid or
// has completed.
var countdownKeys = []string{
	KeyCountdownStartTime,
	KeyCountdownSeconds,
}
