package pin

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls PIN validation.
type Policy struct {
	MinDigits int
	MaxDigits int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a baseline suitable for short numeric secrets.
// Costs are lower than a password baseline because PIN attempts are also
// rate-limited at the API layer; the hash is a second line of defense.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   32 * 1024, // 32 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinDigits: 4,
			MaxDigits: 12,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - AUTOSPOT_PIN_MIN_DIGITS
// - AUTOSPOT_PIN_MAX_DIGITS
// - AUTOSPOT_ARGON2_MEMORY_KIB
// - AUTOSPOT_ARGON2_ITERATIONS
// - AUTOSPOT_ARGON2_PARALLELISM
// - AUTOSPOT_ARGON2_SALT_LEN
// - AUTOSPOT_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("AUTOSPOT_PIN_MIN_DIGITS"); ok {
		n, err := atoiRange(v, 4, 32)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_PIN_MIN_DIGITS: %w", err)
		}
		cfg.Policy.MinDigits = n
	}

	if v, ok := os.LookupEnv("AUTOSPOT_PIN_MAX_DIGITS"); ok {
		n, err := atoiRange(v, 4, 64)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_PIN_MAX_DIGITS: %w", err)
		}
		cfg.Policy.MaxDigits = n
	}

	if v, ok := os.LookupEnv("AUTOSPOT_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 8*1024, 1024*1024) // 8 MiB .. 1 GiB
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("AUTOSPOT_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	if v, ok := os.LookupEnv("AUTOSPOT_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	if v, ok := os.LookupEnv("AUTOSPOT_ARGON2_SALT_LEN"); ok {
		u, err := atou32(v, 8, 64)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_ARGON2_SALT_LEN: %w", err)
		}
		cfg.Params.SaltLength = u
	}

	if v, ok := os.LookupEnv("AUTOSPOT_ARGON2_KEY_LEN"); ok {
		u, err := atou32(v, 16, 64)
		if err != nil {
			return Config{}, fmt.Errorf("AUTOSPOT_ARGON2_KEY_LEN: %w", err)
		}
		cfg.Params.KeyLength = u
	}

	if cfg.Policy.MinDigits > cfg.Policy.MaxDigits {
		return Config{}, fmt.Errorf(
			"pin policy invalid: min_digits(%d) > max_digits(%d)",
			cfg.Policy.MinDigits,
			cfg.Policy.MaxDigits,
		)
	}

	return cfg, nil
}

// Validate checks a candidate PIN against the policy.
func (c Config) Validate(pin string) error {
	if len(pin) < c.Policy.MinDigits {
		return ErrPINTooShort
	}
	if len(pin) > c.Policy.MaxDigits {
		return ErrPINTooLong
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrPINNotDigits
		}
	}
	return nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}
