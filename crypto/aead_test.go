package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}

	plaintext := []byte("hello, replica")
	aad := []byte("block-id")

	sealed, err := Seal(key, nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	opened, err := Open(key, nonce, sealed, aad)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round-trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestOpenWrongKeyIsIndistinguishableFromCorrupt(t *testing.T) {
	key, _ := GenerateKey()
	wrongKey, _ := GenerateKey()
	nonce, _ := GenerateNonce()

	sealed, err := Seal(key, nonce, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	_, errWrongKey := Open(wrongKey, nonce, sealed, nil)
	if errWrongKey != ErrCorruptOrWrongKey {
		t.Errorf("wrong key: got %v want %v", errWrongKey, ErrCorruptOrWrongKey)
	}

	corrupt := append([]byte(nil), sealed...)
	corrupt[0] ^= 0xff
	_, errCorrupt := Open(key, nonce, corrupt, nil)
	if errCorrupt != ErrCorruptOrWrongKey {
		t.Errorf("corrupt: got %v want %v", errCorrupt, ErrCorruptOrWrongKey)
	}
}

func TestLocatorDeterministic(t *testing.T) {
	key, _ := GenerateKey()
	var root [32]byte
	root[0] = 0x42

	l1 := Locator(key, root, 3)
	l2 := Locator(key, root, 3)
	if l1 != l2 {
		t.Error("locator is not deterministic for same inputs")
	}

	l3 := Locator(key, root, 4)
	if l1 == l3 {
		t.Error("locator did not change with block index")
	}
}
