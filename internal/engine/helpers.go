package engine

import (
	"encoding/hex"

	"chainquery/internal/chainerr"
)

// parseHash decodes a display-order (big-endian) hex hash into the
// internal little-endian [32]byte form wire/chainhash use, matching
// btcd's own string<->Hash convention.
func parseHash(hashHex string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(hashHex)
	if err != nil {
		return out, chainerr.Wrap(chainerr.InvalidEncoding, "hash hex", err)
	}
	if len(b) != 32 {
		return out, chainerr.New(chainerr.InvalidEncoding, "hash must be 32 bytes")
	}
	for i := 0; i < 32; i++ {
		out[i] = b[31-i]
	}
	return out, nil
}
