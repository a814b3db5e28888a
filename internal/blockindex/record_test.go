package blockindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainquery/internal/blockindex"
	"chainquery/internal/chainerr"
)

func sampleRecord() *blockindex.Record {
	r := &blockindex.Record{
		Height:     170,
		Status:     blockindex.StatusHaveData | blockindex.StatusHaveUndo,
		FileNumber: 3,
		DataOffset: 1024,
		UndoOffset: 512,
		NumTx:      2,
	}
	r.Hash[0] = 0xaa
	r.ParentHash[0] = 0xbb
	r.ChainWork[31] = 0x01
	for i := range r.Header {
		r.Header[i] = byte(i)
	}
	return r
}

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := sampleRecord()
	decoded, err := blockindex.Decode(blockindex.Encode(r))
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestRecordHasDataHasUndo(t *testing.T) {
	r := sampleRecord()
	assert.True(t, r.HasData())
	assert.True(t, r.HasUndo())

	r.Status = 0
	assert.False(t, r.HasData())
	assert.False(t, r.HasUndo())
}

func TestDecodeRejectsBadLength(t *testing.T) {
	_, err := blockindex.Decode([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.True(t, chainerr.Is(err, chainerr.InvalidEncoding))
}

func TestBlockKeyAndTxKeyPrefixes(t *testing.T) {
	var hash [32]byte
	hash[0] = 0x42
	key := blockindex.BlockKey(hash)
	assert.Equal(t, byte('b'), key[0])
	assert.Len(t, key, 33)

	txKey := blockindex.TxKey(hash)
	assert.Equal(t, byte('t'), txKey[0])
}
