package pin

import "testing"

func TestHashAndVerify_OK(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("482916")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "482916")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPIN(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("482916")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "000000")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_Policy(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate("123"); err != ErrPINTooShort {
		t.Fatalf("expected ErrPINTooShort, got %v", err)
	}
	if err := cfg.Validate("1234567890123"); err != ErrPINTooLong {
		t.Fatalf("expected ErrPINTooLong, got %v", err)
	}
	if err := cfg.Validate("12a4"); err != ErrPINNotDigits {
		t.Fatalf("expected ErrPINNotDigits, got %v", err)
	}
	if err := cfg.Validate("4829"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := DefaultConfig()

	ok, err := cfg.Verify("not-a-hash", "4829")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestVerify_RejectsOversizedParams(t *testing.T) {
	cfg := DefaultConfig()

	// A syntactically valid hash claiming pathological memory cost.
	oversized := "$argon2id$v=19$m=4194304,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	if _, err := cfg.Verify(oversized, "4829"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestFromEnv_InvalidPolicy(t *testing.T) {
	t.Setenv("AUTOSPOT_PIN_MIN_DIGITS", "10")
	t.Setenv("AUTOSPOT_PIN_MAX_DIGITS", "6")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for min > max")
	}
}
