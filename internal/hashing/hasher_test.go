package hashing

import (
	"strings"
	"testing"

	"sms-auth-service/internal/config"
)

func newTestHasher() *Hasher {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 8 * 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	return NewHasher(cfg)
}

func TestHashAndVerifyCode(t *testing.T) {
	h := newTestHasher()

	encoded, err := h.HashCode("482913")
	if err != nil {
		t.Fatalf("HashCode: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := h.VerifyCode("482913", encoded)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !ok {
		t.Fatal("matching code should verify")
	}

	ok, err = h.VerifyCode("482914", encoded)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if ok {
		t.Fatal("mismatched code should not verify")
	}
}

func TestHashCodeSaltsDiffer(t *testing.T) {
	h := newTestHasher()

	a, err := h.HashCode("123456")
	if err != nil {
		t.Fatalf("HashCode: %v", err)
	}
	b, err := h.HashCode("123456")
	if err != nil {
		t.Fatalf("HashCode: %v", err)
	}
	if a == b {
		t.Fatal("same code should hash differently under fresh salts")
	}
}

func TestVerifyCodeMalformedHash(t *testing.T) {
	h := newTestHasher()

	if _, err := h.VerifyCode("123456", "not-a-hash"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestPhoneHashDeterministic(t *testing.T) {
	a := PhoneHash("+34600111222")
	b := PhoneHash("+34600111222")
	if a != b {
		t.Fatal("phone hash must be deterministic")
	}
	if a == PhoneHash("+34600111223") {
		t.Fatal("different phones must hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("phone hash length = %d, want 64 hex chars", len(a))
	}
}
