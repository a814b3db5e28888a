package chainfile

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"

	"chainquery/internal/chainerr"
	"chainquery/internal/primitives"
)

// UndoTxOut is a single previous output recovered from an undo record:
// the output a non-coinbase input spent, as it looked immediately before
// the spend.
type UndoTxOut struct {
	Value    int64
	PkScript []byte
	Height   uint32
	Coinbase bool
}

// UndoBlock mirrors a block's non-coinbase transactions: TxOuts[i][j] is
// the previous output spent by the j'th input of the (i+1)'th
// transaction (the coinbase transaction, index 0, has no undo entry).
type UndoBlock struct {
	TxOuts [][]UndoTxOut
}

// ReadUndoAt decodes the framed undo record at offset: magic, a
// little-endian size, then a CompactSize count of per-transaction undo
// entries (one per non-coinbase transaction, in block order), followed
// by a 32-byte checksum this function does not verify (the caller's
// block hash chain is the integrity check that matters for this engine).
func ReadUndoAt(r io.ReadSeeker, offset int64, netMagic uint32, nonCoinbaseTxCount int, xorKey []byte) (*UndoBlock, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, chainerr.Wrap(chainerr.IO, "seek undo offset", err)
	}

	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, chainerr.Wrap(chainerr.IO, "read undo magic", err)
	}
	deobfuscate(magicBuf[:], xorKey, offset)
	if binary.LittleEndian.Uint32(magicBuf[:]) != netMagic {
		return nil, chainerr.New(chainerr.InvalidEncoding, "undo magic mismatch")
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, chainerr.Wrap(chainerr.InvalidEncoding, "read undo size", err)
	}
	deobfuscate(sizeBuf[:], xorKey, offset+4)
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size > MaxBlockRecordSize {
		return nil, chainerr.New(chainerr.InvalidEncoding, "undo record size out of range")
	}

	// The size field bounds the undo record, so it is read and
	// XOR-decoded as one buffer at its absolute file offset.
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, chainerr.Wrap(chainerr.InvalidEncoding, "read undo body", err)
	}
	deobfuscate(raw, xorKey, offset+8)
	body := bytes.NewReader(raw)

	count, err := primitives.ReadCompactSize(body)
	if err != nil {
		return nil, err
	}
	if count != uint64(nonCoinbaseTxCount) {
		return nil, chainerr.New(chainerr.ConsistencyError, "undo record tx count mismatch")
	}

	out := &UndoBlock{TxOuts: make([][]UndoTxOut, count)}
	for i := uint64(0); i < count; i++ {
		inputCount, err := primitives.ReadCompactSize(body)
		if err != nil {
			return nil, err
		}
		entries := make([]UndoTxOut, inputCount)
		for j := uint64(0); j < inputCount; j++ {
			entry, err := readUndoTxOut(body)
			if err != nil {
				return nil, err
			}
			entries[j] = entry
		}
		out.TxOuts[i] = entries
	}
	return out, nil
}

// readUndoTxOut decodes one Coin entry: Bitcoin Core's TxInUndoFormatter
// (undo.h). nCode packs height*2+coinbase-flag; height>0 carries a
// one-byte backward-compatibility version dummy; the compressed amount
// and compressed script follow CTxOutCompressor's encoding.
func readUndoTxOut(r io.Reader) (UndoTxOut, error) {
	nCode, err := primitives.ReadUndoVarInt(r)
	if err != nil {
		return UndoTxOut{}, err
	}
	height := uint32(nCode >> 1)
	coinbase := nCode&1 != 0

	if height > 0 {
		if _, err := primitives.ReadUndoVarInt(r); err != nil {
			return UndoTxOut{}, err
		}
	}

	compressedAmount, err := primitives.ReadUndoVarInt(r)
	if err != nil {
		return UndoTxOut{}, err
	}
	value := primitives.DecompressAmount(compressedAmount)

	nSize, err := primitives.ReadUndoVarInt(r)
	if err != nil {
		return UndoTxOut{}, err
	}

	pkScript, err := decompressScript(r, nSize)
	if err != nil {
		return UndoTxOut{}, err
	}

	return UndoTxOut{Value: value, PkScript: pkScript, Height: height, Coinbase: coinbase}, nil
}

// decompressScript rebuilds a scriptPubKey from Bitcoin Core's
// special-case undo-script compression (CScriptCompressor::Decompress):
//
//	nSize 0: P2PKH, 20-byte hash follows
//	nSize 1: P2SH, 20-byte hash follows
//	nSize 2/3: compressed P2PK, 32-byte x-coordinate follows (even/odd Y)
//	nSize 4/5: P2PK originally uncompressed, stored compressed; the
//	           65-byte key is reconstructed via secp256k1 point decompression
//	nSize >= 6: raw script, length = nSize-6
func decompressScript(r io.Reader, nSize uint64) ([]byte, error) {
	switch nSize {
	case 0:
		hash := make([]byte, 20)
		if _, err := io.ReadFull(r, hash); err != nil {
			return nil, chainerr.Wrap(chainerr.InvalidEncoding, "undo p2pkh hash", err)
		}
		return append(append([]byte{0x76, 0xa9, 0x14}, hash...), 0x88, 0xac), nil

	case 1:
		hash := make([]byte, 20)
		if _, err := io.ReadFull(r, hash); err != nil {
			return nil, chainerr.Wrap(chainerr.InvalidEncoding, "undo p2sh hash", err)
		}
		return append(append([]byte{0xa9, 0x14}, hash...), 0x87), nil

	case 2, 3:
		key := make([]byte, 33)
		key[0] = byte(nSize)
		if _, err := io.ReadFull(r, key[1:]); err != nil {
			return nil, chainerr.Wrap(chainerr.InvalidEncoding, "undo compressed pubkey", err)
		}
		return append(append([]byte{0x21}, key...), 0xac), nil

	case 4, 5:
		xcoord := make([]byte, 32)
		if _, err := io.ReadFull(r, xcoord); err != nil {
			return nil, chainerr.Wrap(chainerr.InvalidEncoding, "undo uncompressed pubkey", err)
		}
		compressed := append([]byte{byte(nSize - 2)}, xcoord...)
		pubKey, err := btcec.ParsePubKey(compressed)
		if err != nil {
			return append(append([]byte{0x21}, compressed...), 0xac), nil
		}
		uncompressed := pubKey.SerializeUncompressed()
		return append(append([]byte{0x41}, uncompressed...), 0xac), nil

	default:
		scriptLen := nSize - 6
		script := make([]byte, scriptLen)
		if _, err := io.ReadFull(r, script); err != nil {
			return nil, chainerr.Wrap(chainerr.InvalidEncoding, "undo raw script", err)
		}
		return script, nil
	}
}
