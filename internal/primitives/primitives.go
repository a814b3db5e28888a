// Package primitives decodes the byte-level wire primitives shared by
// block files, undo files, and index-store records: Bitcoin's
// CompactSize integers, Bitcoin Core's undo-file VARINT and compressed
// amounts, and hash display conventions. Fixed-width little-endian
// integers are read with encoding/binary at the call sites.
package primitives

import (
	"encoding/binary"
	"encoding/hex"
	"io"

	"chainquery/internal/chainerr"
)

// MaxCompactSize is a sanity ceiling for CompactSize values read from
// untrusted on-disk bytes: no block or transaction ever legitimately
// encodes a count anywhere near this large.
const MaxCompactSize = 32 << 20 // 32 MiB

// ReadCompactSize reads a Bitcoin CompactSize (variable-length
// length-prefixed integer): 1/3/5/9 bytes depending on the leading byte.
func ReadCompactSize(r io.Reader) (uint64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, chainerr.Wrap(chainerr.InvalidEncoding, "compact-size prefix", err)
	}

	var v uint64
	switch b[0] {
	case 0xfd:
		var u16 uint16
		if err := binary.Read(r, binary.LittleEndian, &u16); err != nil {
			return 0, chainerr.Wrap(chainerr.InvalidEncoding, "compact-size u16", err)
		}
		v = uint64(u16)
	case 0xfe:
		var u32 uint32
		if err := binary.Read(r, binary.LittleEndian, &u32); err != nil {
			return 0, chainerr.Wrap(chainerr.InvalidEncoding, "compact-size u32", err)
		}
		v = uint64(u32)
	case 0xff:
		var u64 uint64
		if err := binary.Read(r, binary.LittleEndian, &u64); err != nil {
			return 0, chainerr.Wrap(chainerr.InvalidEncoding, "compact-size u64", err)
		}
		v = u64
	default:
		v = uint64(b[0])
	}

	if v > MaxCompactSize {
		return 0, chainerr.New(chainerr.InvalidEncoding, "compact-size exceeds sanity ceiling")
	}
	return v, nil
}

// WriteCompactSize writes a CompactSize integer, the inverse of
// ReadCompactSize for values up to MaxCompactSize (larger values are
// written, but ReadCompactSize rejects them).
func WriteCompactSize(w io.Writer, val uint64) error {
	switch {
	case val < 0xfd:
		_, err := w.Write([]byte{byte(val)})
		return err
	case val <= 0xffff:
		if _, err := w.Write([]byte{0xfd}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint16(val))
	case val <= 0xffffffff:
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint32(val))
	default:
		if _, err := w.Write([]byte{0xff}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, val)
	}
}

// ReadUndoVarInt reads Bitcoin Core's custom VARINT encoding used in
// undo files (rev*.dat): each byte's low 7 bits hold data; bit 7 set
// means more bytes follow, with an implicit +1 per continuation byte
// (serialize.h's CVarInt / "prefix-free" variable length integer). This
// is a different encoding than CompactSize and is not interchangeable
// with it.
func ReadUndoVarInt(r io.Reader) (uint64, error) {
	var n uint64
	var b [1]byte
	for i := 0; ; i++ {
		if i > 9 {
			return 0, chainerr.New(chainerr.InvalidEncoding, "undo varint too long")
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, chainerr.Wrap(chainerr.InvalidEncoding, "undo varint", err)
		}
		n = (n << 7) | uint64(b[0]&0x7f)
		if b[0]&0x80 == 0 {
			return n, nil
		}
		n++
	}
}

// DecompressAmount decompresses a Bitcoin Core compressed satoshi amount
// (serialize.h's DecompressAmount, the inverse of CTxOutCompressor).
func DecompressAmount(x uint64) int64 {
	if x == 0 {
		return 0
	}
	x--
	e := x % 10
	x /= 10
	var n uint64
	if e < 9 {
		d := x%9 + 1
		x /= 9
		n = x*10 + d
		for i := uint64(0); i < e; i++ {
			n *= 10
		}
	} else {
		n = x + 1
		for i := uint64(0); i < 9; i++ {
			n *= 10
		}
	}
	return int64(n)
}

// ReverseHex returns the big-endian display form of a little-endian
// on-wire 32-byte hash (block hash / txid display convention).
func ReverseHex(b []byte) string {
	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	return hex.EncodeToString(rev)
}
