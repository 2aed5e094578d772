package encoding

import (
	"errors"
	"strings"
	"testing"
)

type testSnapshot struct {
	Version int               `msgpack:"version"`
	Streams []string          `msgpack:"streams"`
	Styles  map[string]string `msgpack:"styles"`
}

func testEncoder(t *testing.T, key string) *Encoder {
	t.Helper()
	enc, err := NewEncoder([]byte(key))
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	return enc
}

func TestNewEncoder(t *testing.T) {
	if _, err := NewEncoder([]byte("short")); err != nil {
		t.Fatalf("NewEncoder with short key failed: %v", err)
	}
	if _, err := NewEncoder([]byte("this-is-a-key-longer-than-thirty-two-bytes")); err != nil {
		t.Fatalf("NewEncoder with long key failed: %v", err)
	}
	if _, err := NewEncoder(nil); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestRoundTrip(t *testing.T) {
	enc := testEncoder(t, "test-key")
	original := testSnapshot{
		Version: 1,
		Streams: []string{"<html>", "</html>"},
		Styles:  map[string]string{"todo-item": ":host{display:block}"},
	}

	for _, mode := range []Mode{Signed, Sealed} {
		t.Run(mode.String(), func(t *testing.T) {
			encoded, err := enc.Encode(original, mode)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			var decoded testSnapshot
			if err := enc.Decode(encoded, mode, &decoded); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Version != original.Version {
				t.Errorf("Version mismatch: got %d, want %d", decoded.Version, original.Version)
			}
			if strings.Join(decoded.Streams, "|") != strings.Join(original.Streams, "|") {
				t.Errorf("Streams mismatch: got %v, want %v", decoded.Streams, original.Streams)
			}
			if decoded.Styles["todo-item"] != original.Styles["todo-item"] {
				t.Errorf("Styles mismatch: got %v", decoded.Styles)
			}
		})
	}
}

func TestSignedIsReadable(t *testing.T) {
	enc := testEncoder(t, "test-key")
	encoded, err := enc.Encode(testSnapshot{Version: 2}, Signed)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(encoded, ".") {
		t.Errorf("signed snapshot should be base64.signature, got %q", encoded)
	}
}

func TestSignatureVerificationFailure(t *testing.T) {
	enc := testEncoder(t, "test-key")
	encoded, err := enc.Encode(testSnapshot{Version: 1}, Signed)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tampered := encoded[:len(encoded)-2] + "XX"

	var decoded testSnapshot
	err = enc.Decode(tampered, Signed, &decoded)
	if !errors.Is(err, ErrSignatureInvalid) && !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected signature error, got: %v", err)
	}
}

func TestDecryptionFailure(t *testing.T) {
	enc := testEncoder(t, "test-key")
	encoded, err := enc.Encode(testSnapshot{Version: 1}, Sealed)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tampered := encoded[:len(encoded)-2] + "XX"

	var decoded testSnapshot
	if err := enc.Decode(tampered, Sealed, &decoded); err == nil {
		t.Error("expected error for tampered ciphertext, got nil")
	}
}

func TestInvalidFormat(t *testing.T) {
	enc := testEncoder(t, "test-key")

	var decoded testSnapshot
	err := enc.Decode("invalidbase64withoutseparator", Signed, &decoded)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got: %v", err)
	}

	err = enc.Decode("!!", Sealed, &decoded)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got: %v", err)
	}
}

func TestDifferentKeysCannotDecode(t *testing.T) {
	enc1 := testEncoder(t, "key-one")
	enc2 := testEncoder(t, "key-two")

	encoded, err := enc1.Encode(testSnapshot{Version: 1}, Signed)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded testSnapshot
	if err := enc2.Decode(encoded, Signed, &decoded); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("expected ErrSignatureInvalid, got: %v", err)
	}
}
