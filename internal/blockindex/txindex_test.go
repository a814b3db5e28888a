package blockindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainquery/internal/blockindex"
	"chainquery/internal/chainerr"
	"chainquery/internal/kvstore"
)

func TestTxRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := blockindex.TxRecord{
		FileNumber:       7,
		Offset:           99999,
		Length:           250,
		ContainingHeight: 170,
		Coinbase:         false,
	}
	decoded, err := blockindex.DecodeTxRecord(blockindex.EncodeTxRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	rec.Coinbase = true
	decoded, err = blockindex.DecodeTxRecord(blockindex.EncodeTxRecord(rec))
	require.NoError(t, err)
	assert.True(t, decoded.Coinbase)
}

func TestDecodeTxRecordRejectsBadLength(t *testing.T) {
	_, err := blockindex.DecodeTxRecord([]byte{0x01})
	require.Error(t, err)
	assert.True(t, chainerr.Is(err, chainerr.InvalidEncoding))
}

func TestTxIndexLookup(t *testing.T) {
	dbPath := t.TempDir() + "/txindex.db"
	var txid [32]byte
	txid[0] = 0x11

	rec := blockindex.TxRecord{FileNumber: 1, Offset: 80, Length: 200, ContainingHeight: 9, Coinbase: true}
	require.NoError(t, kvstore.Build(dbPath, map[string][]byte{
		string(blockindex.TxKey(txid)): blockindex.EncodeTxRecord(rec),
	}))

	store, err := kvstore.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	idx := blockindex.NewTxIndex(store)
	got, ok, err := idx.Lookup(txid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	var missing [32]byte
	missing[0] = 0xff
	_, ok, err = idx.Lookup(missing)
	require.NoError(t, err)
	assert.False(t, ok)
}
