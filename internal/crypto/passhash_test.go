package crypto

import (
	"bytes"
	"testing"
)

func TestNewSalt_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(a) != SaltLen {
		t.Fatalf("len=%d, want=%d", len(a), SaltLen)
	}
	b, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent salts are equal — looks non-random")
	}
	if bytes.Equal(a, make([]byte, SaltLen)) {
		t.Fatalf("NewSalt returned all zeros")
	}
}

func TestHash_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	salt := []byte("NaCl-16-bytes?")

	h1 := Hash(pw, salt)
	h2 := Hash(pw, salt)

	if len(h1) == 0 || len(h2) == 0 {
		t.Fatalf("empty hash")
	}
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}

	if bytes.Equal(h1, Hash(pw, []byte("another-salt----"))) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, Hash([]byte("p@ssw0rd!"), salt)) {
		t.Fatalf("hash should differ when password differs")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")

	hash := Hash(pw, salt)

	if !Verify(pw, salt, hash) {
		t.Fatalf("Verify: expected true for correct password")
	}
	if Verify([]byte("wrong"), salt, hash) {
		t.Fatalf("Verify: expected false for wrong password")
	}
	if Verify(pw, []byte("wrong-salt"), hash) {
		t.Fatalf("Verify: expected false for wrong salt")
	}
	if Verify([]byte{}, salt, hash) {
		t.Fatalf("Verify: expected false for empty password")
	}
}
