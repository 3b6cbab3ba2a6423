package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5A}, 20)
	addr := NewAddress(SWTPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(SWTPrefix)+"1") {
		t.Fatalf("encoded address %q missing prefix", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if decoded.Prefix() != SWTPrefix {
		t.Fatalf("prefix = %q, want %q", decoded.Prefix(), SWTPrefix)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("decoded bytes mismatch: %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsMalformedInput(t *testing.T) {
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatal("expected error for malformed string")
	}
	// Valid bech32, wrong payload length.
	conv, err := bech32.ConvertBits(bytes.Repeat([]byte{0x01}, 10), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	short, err := bech32.Encode(string(SWTPrefix), conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(short); err == nil {
		t.Fatal("expected error for short payload")
	}
}
