package wallet

import (
	"testing"

	"github.com/gridtokenx/apigateway-core/pkg/cryptoprim"
)

func TestClassifyCurrent(t *testing.T) {
	salt := make([]byte, 16)
	nonce := make([]byte, cryptoprim.NonceSize)
	if got := classify(salt, nonce); got != ClassCurrent {
		t.Fatalf("classify(current-shaped) = %v, want %v", got, ClassCurrent)
	}
}

func TestClassifyLegacy16ByteIV(t *testing.T) {
	salt := make([]byte, 16)
	nonce := make([]byte, legacyNonceSize)
	if got := classify(salt, nonce); got != ClassLegacy16ByteIV {
		t.Fatalf("classify(legacy-shaped) = %v, want %v", got, ClassLegacy16ByteIV)
	}
}

func TestClassifyCorruptShortSalt(t *testing.T) {
	salt := make([]byte, 4)
	nonce := make([]byte, cryptoprim.NonceSize)
	if got := classify(salt, nonce); got != ClassCorrupt {
		t.Fatalf("classify(short salt) = %v, want %v", got, ClassCorrupt)
	}
}

func TestClassifyCorruptUnknownNonceLength(t *testing.T) {
	salt := make([]byte, 16)
	nonce := make([]byte, 3)
	if got := classify(salt, nonce); got != ClassCorrupt {
		t.Fatalf("classify(unknown nonce length) = %v, want %v", got, ClassCorrupt)
	}
}
