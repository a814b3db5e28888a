// Package blockindex builds the in-memory height/hash/file-position map
// from the node's block-index key-value store (spec.md §4.E).
package blockindex

import (
	"encoding/binary"

	"chainquery/internal/chainerr"
)

const (
	// StatusHaveData marks that the block's raw bytes are present in the block files.
	StatusHaveData byte = 1 << 0
	// StatusHaveUndo marks that the block's undo bytes are present in the undo files.
	StatusHaveUndo byte = 1 << 1

	blockKeyPrefix = 'b'
	txKeyPrefix    = 't'

	headerSize = 80
	// recordSize = hash(32) + parent(32) + header(80) + height(4) + status(1)
	// + fileNo(2) + dataOffset(8) + undoOffset(8) + numTx(4) + chainWork(32).
	recordSize = 32 + 32 + headerSize + 4 + 1 + 2 + 8 + 8 + 4 + 32
)

// Record is the decoded form of one node-known block: spec.md's
// BlockIndexRecord.
type Record struct {
	Hash       [32]byte
	ParentHash [32]byte
	Header     [headerSize]byte // raw 80-byte header, reused for both hashing and field access
	Height     uint32
	Status     byte
	FileNumber uint16
	DataOffset uint64
	UndoOffset uint64
	NumTx      uint32
	// ChainWork is the cumulative proof-of-work up to and including this
	// block, big-endian, mirroring Bitcoin Core's nChainWork field
	// (see SPEC_FULL.md's "Cumulative work" supplement).
	ChainWork [32]byte
}

// HasData reports whether the block's raw bytes are present on disk.
func (r *Record) HasData() bool { return r.Status&StatusHaveData != 0 }

// HasUndo reports whether the block's undo bytes are present on disk.
func (r *Record) HasUndo() bool { return r.Status&StatusHaveUndo != 0 }

// BlockKey builds the 'b'+hash key.
func BlockKey(hash [32]byte) []byte {
	k := make([]byte, 1+32)
	k[0] = blockKeyPrefix
	copy(k[1:], hash[:])
	return k
}

// TxKey builds the 't'+txid key.
func TxKey(txid [32]byte) []byte {
	k := make([]byte, 1+32)
	k[0] = txKeyPrefix
	copy(k[1:], txid[:])
	return k
}

// BlockKeyPrefix is the prefix byte used to scan every block-index entry.
var BlockKeyPrefix = []byte{blockKeyPrefix}

// Encode serializes a Record for storage.
func Encode(r *Record) []byte {
	buf := make([]byte, recordSize)
	i := 0
	copy(buf[i:], r.Hash[:])
	i += 32
	copy(buf[i:], r.ParentHash[:])
	i += 32
	copy(buf[i:], r.Header[:])
	i += headerSize
	binary.LittleEndian.PutUint32(buf[i:], r.Height)
	i += 4
	buf[i] = r.Status
	i++
	binary.LittleEndian.PutUint16(buf[i:], r.FileNumber)
	i += 2
	binary.LittleEndian.PutUint64(buf[i:], r.DataOffset)
	i += 8
	binary.LittleEndian.PutUint64(buf[i:], r.UndoOffset)
	i += 8
	binary.LittleEndian.PutUint32(buf[i:], r.NumTx)
	i += 4
	copy(buf[i:], r.ChainWork[:])
	return buf
}

// Decode parses a Record from storage bytes.
func Decode(b []byte) (*Record, error) {
	if len(b) != recordSize {
		return nil, chainerr.New(chainerr.InvalidEncoding, "block index record: bad length")
	}
	r := &Record{}
	i := 0
	copy(r.Hash[:], b[i:i+32])
	i += 32
	copy(r.ParentHash[:], b[i:i+32])
	i += 32
	copy(r.Header[:], b[i:i+headerSize])
	i += headerSize
	r.Height = binary.LittleEndian.Uint32(b[i:])
	i += 4
	r.Status = b[i]
	i++
	r.FileNumber = binary.LittleEndian.Uint16(b[i:])
	i += 2
	r.DataOffset = binary.LittleEndian.Uint64(b[i:])
	i += 8
	r.UndoOffset = binary.LittleEndian.Uint64(b[i:])
	i += 8
	r.NumTx = binary.LittleEndian.Uint32(b[i:])
	i += 4
	copy(r.ChainWork[:], b[i:i+32])
	return r, nil
}
