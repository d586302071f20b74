package pin

import "errors"

// Public, stable errors for callers.
var (
	ErrPINTooShort  = errors.New("pin too short")
	ErrPINTooLong   = errors.New("pin too long")
	ErrPINNotDigits = errors.New("pin must contain only digits")
	ErrInvalidHash  = errors.New("invalid pin hash")
)
