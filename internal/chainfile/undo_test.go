package chainfile_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainquery/internal/chainerr"
	"chainquery/internal/chainfile"
	"chainquery/internal/primitives"
)

// writeUndoVarInt mirrors Bitcoin Core's CVarInt encoding used by rev*.dat,
// the inverse of primitives.ReadUndoVarInt.
func writeUndoVarInt(buf *bytes.Buffer, n uint64) {
	var tmp [10]byte
	l := 0
	for {
		tmp[l] = byte(n & 0x7f)
		if l != 0 {
			tmp[l] |= 0x80
		}
		if n <= 0x7f {
			break
		}
		n = n>>7 - 1
		l++
	}
	for i := l; i >= 0; i-- {
		buf.WriteByte(tmp[i])
	}
}

func TestReadUndoAtSingleRawScriptOutput(t *testing.T) {
	var body bytes.Buffer
	require.NoError(t, primitives.WriteCompactSize(&body, 1)) // one non-coinbase tx
	require.NoError(t, primitives.WriteCompactSize(&body, 1)) // one spent input

	// nCode = height*2 + coinbaseFlag; height 9, non-coinbase-spend flag 0.
	writeUndoVarInt(&body, 9*2)
	// No backward-compat dummy byte beyond height 0's omission rule: height>0 has one.
	writeUndoVarInt(&body, 0)
	// compressed amount for 0 (DecompressAmount(0) == 0).
	writeUndoVarInt(&body, 0)
	// nSize >= 6 raw script, length = nSize-6.
	script := []byte{0x51, 0x52}
	writeUndoVarInt(&body, uint64(6+len(script)))
	body.Write(script)

	var framed bytes.Buffer
	var magicBuf, sizeBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], uint32(chaincfg.MainNetParams.Net))
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(body.Len()))
	framed.Write(magicBuf[:])
	framed.Write(sizeBuf[:])
	framed.Write(body.Bytes())
	// 32-byte checksum, unverified.
	framed.Write(make([]byte, 32))

	got, err := chainfile.ReadUndoAt(bytes.NewReader(framed.Bytes()), 0, uint32(chaincfg.MainNetParams.Net), 1, nil)
	require.NoError(t, err)
	require.Len(t, got.TxOuts, 1)
	require.Len(t, got.TxOuts[0], 1)
	assert.Equal(t, script, got.TxOuts[0][0].PkScript)
	assert.Equal(t, uint32(9), got.TxOuts[0][0].Height)
	assert.False(t, got.TxOuts[0][0].Coinbase)
}

func TestReadUndoAtRejectsWrongMagic(t *testing.T) {
	var framed bytes.Buffer
	var magicBuf, sizeBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], uint32(chaincfg.TestNet3Params.Net))
	binary.LittleEndian.PutUint32(sizeBuf[:], 0)
	framed.Write(magicBuf[:])
	framed.Write(sizeBuf[:])

	_, err := chainfile.ReadUndoAt(bytes.NewReader(framed.Bytes()), 0, uint32(chaincfg.MainNetParams.Net), 0, nil)
	require.Error(t, err)
	assert.True(t, chainerr.Is(err, chainerr.InvalidEncoding))
}

func TestReadUndoAtRejectsTxCountMismatch(t *testing.T) {
	var body bytes.Buffer
	require.NoError(t, primitives.WriteCompactSize(&body, 2))

	var framed bytes.Buffer
	var magicBuf, sizeBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], uint32(chaincfg.MainNetParams.Net))
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(body.Len()))
	framed.Write(magicBuf[:])
	framed.Write(sizeBuf[:])
	framed.Write(body.Bytes())

	_, err := chainfile.ReadUndoAt(bytes.NewReader(framed.Bytes()), 0, uint32(chaincfg.MainNetParams.Net), 1, nil)
	require.Error(t, err)
	assert.True(t, chainerr.Is(err, chainerr.ConsistencyError))
}
