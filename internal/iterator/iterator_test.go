package iterator_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainquery/internal/blockindex"
	"chainquery/internal/iterator"
	"chainquery/internal/kvstore"
)

// buildTwoBlockChain writes a two-height regtest fixture: height 0 is a
// coinbase-only block, height 1 spends height 0's coinbase output. It
// returns the populated blockindex.Index and the data directory root.
func buildTwoBlockChain(t *testing.T) (string, *blockindex.Index) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blocks", "index"), 0o755))

	magic := uint32(chaincfg.RegressionNetParams.Net)

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0xffffffff), []byte{0x01}, nil))
	coinbase.AddTxOut(wire.NewTxOut(5_000_000_000, []byte{0x51}))

	header0 := wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: coinbase.TxHash(),
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       0x207fffff,
	}
	block0 := &wire.MsgBlock{Header: header0, Transactions: []*wire.MsgTx{coinbase}}
	hash0 := header0.BlockHash()

	coinbase1 := wire.NewMsgTx(wire.TxVersion)
	coinbase1.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0xffffffff), []byte{0x02}, nil))
	coinbase1.AddTxOut(wire.NewTxOut(5_000_000_000, []byte{0x51}))

	spendTx := wire.NewMsgTx(wire.TxVersion)
	cbHash := coinbase.TxHash()
	spendTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&cbHash, 0), []byte{0x51}, nil))
	spendTx.AddTxOut(wire.NewTxOut(4_999_000_000, []byte{0x51}))

	merkleRoot1 := merkleRootOfTwo(coinbase1.TxHash(), spendTx.TxHash())
	header1 := wire.BlockHeader{
		Version:    1,
		PrevBlock:  hash0,
		MerkleRoot: merkleRoot1,
		Timestamp:  time.Unix(1231006506, 0),
		Bits:       0x207fffff,
	}
	block1 := &wire.MsgBlock{Header: header1, Transactions: []*wire.MsgTx{coinbase1, spendTx}}
	hash1 := header1.BlockHash()

	writeFramed(t, filepath.Join(dir, "blocks", "blk00000.dat"), 0, block0, magic)
	writeFramed(t, filepath.Join(dir, "blocks", "blk00000.dat"), fileOffsetAfter(t, block0), block1, magic)

	rec0 := &blockindex.Record{
		Hash:       [32]byte(hash0),
		Height:     0,
		Status:     blockindex.StatusHaveData,
		FileNumber: 0,
		DataOffset: 0,
		NumTx:      1,
	}
	copy(rec0.Header[:], headerBytes(t, &header0))
	rec0.ChainWork[31] = 1

	rec1 := &blockindex.Record{
		Hash:       [32]byte(hash1),
		ParentHash: [32]byte(hash0),
		Height:     1,
		Status:     blockindex.StatusHaveData,
		FileNumber: 0,
		DataOffset: uint64(fileOffsetAfter(t, block0)),
		NumTx:      2,
	}
	copy(rec1.Header[:], headerBytes(t, &header1))
	rec1.ChainWork[31] = 2

	records := map[string][]byte{
		string(blockindex.BlockKey(rec0.Hash)): blockindex.Encode(rec0),
		string(blockindex.BlockKey(rec1.Hash)): blockindex.Encode(rec1),
	}
	indexPath := filepath.Join(dir, "blocks", "index", "chainquery-blockindex.db")
	require.NoError(t, kvstore.Build(indexPath, records))

	store, err := kvstore.Open(indexPath)
	require.NoError(t, err)
	defer store.Close()
	idx, err := blockindex.Load(store)
	require.NoError(t, err)

	return dir, idx
}

func headerBytes(t *testing.T, h *wire.BlockHeader) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, h.Serialize(&buf))
	return buf.Bytes()
}

func merkleRootOfTwo(a, b chainhash.Hash) chainhash.Hash {
	return chainhash.DoubleHashH(append(append([]byte{}, a[:]...), b[:]...))
}

func frameLen(t *testing.T, blk *wire.MsgBlock) int {
	t.Helper()
	var body bytes.Buffer
	require.NoError(t, blk.Serialize(&body))
	return body.Len()
}

func fileOffsetAfter(t *testing.T, blk *wire.MsgBlock) int64 {
	return int64(8 + frameLen(t, blk))
}

func writeFramed(t *testing.T, path string, at int64, blk *wire.MsgBlock, magic uint32) {
	t.Helper()
	var body bytes.Buffer
	require.NoError(t, blk.Serialize(&body))

	var framed bytes.Buffer
	var magicBuf, lenBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], magic)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(body.Len()))
	framed.Write(magicBuf[:])
	framed.Write(lenBuf[:])
	framed.Write(body.Bytes())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(framed.Bytes(), at)
	require.NoError(t, err)
}

func TestIterByRangeConnectedResolvesSpentOutput(t *testing.T) {
	dir, idx := buildTwoBlockChain(t)
	it := iterator.New(dir, nil, &chaincfg.RegressionNetParams, idx, 2, nil)

	results := make([]iterator.Result, 0)
	for res := range it.IterByRange(context.Background(), 1, 2, true, true) {
		results = append(results, res)
	}

	require.Len(t, results, 1, "only heights >= start must be emitted despite the internal walk starting at 0")
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(1), results[0].Height)

	blk := results[0].Block
	require.Len(t, blk.TxData, 2)
	spendTxFmt := blk.TxData[1]
	require.Len(t, spendTxFmt.Inputs, 1)
	require.NotNil(t, spendTxFmt.Inputs[0].SpentOutput, "the spent coinbase output from height 0 must resolve via the internally-built utxo cache")
	assert.Equal(t, int64(5_000_000_000), spendTxFmt.Inputs[0].SpentOutput.Value)
}

func TestIterByRangeDisconnectedEmitsOutpointOnly(t *testing.T) {
	dir, idx := buildTwoBlockChain(t)
	it := iterator.New(dir, nil, &chaincfg.RegressionNetParams, idx, 2, nil)

	var results []iterator.Result
	for res := range it.IterByRange(context.Background(), 0, 2, true, false) {
		results = append(results, res)
	}

	require.Len(t, results, 2)
	spendTxFmt := results[1].Block.TxData[1]
	require.Nil(t, spendTxFmt.Inputs[0].SpentOutput)
	require.NotNil(t, spendTxFmt.Inputs[0].Outpoint)
}

func TestIterByHeightsPreservesOrderAndIsolatesFailures(t *testing.T) {
	dir, idx := buildTwoBlockChain(t)
	it := iterator.New(dir, nil, &chaincfg.RegressionNetParams, idx, 2, nil)

	var results []iterator.Result
	for res := range it.IterByHeights(context.Background(), []int64{1, 99, 0}, true) {
		results = append(results, res)
	}

	require.Len(t, results, 3)
	assert.Equal(t, int64(1), results[0].Height)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(99), results[1].Height)
	require.Error(t, results[1].Err, "height outside the active chain must fail without affecting the other slots")
	assert.Equal(t, int64(0), results[2].Height)
	require.NoError(t, results[2].Err)
}

func TestIterByRangeAbandonedConsumerReleasesSequencer(t *testing.T) {
	dir, idx := buildTwoBlockChain(t)
	it := iterator.New(dir, nil, &chaincfg.RegressionNetParams, idx, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := it.IterByRange(ctx, 0, 2, true, false)

	// Take exactly one result, then walk away without draining the rest,
	// the way handleIterate does on a client disconnect. Cancelling ctx
	// is what an abandoned HTTP request context does for us in production;
	// without it the sequencer would otherwise block forever on the next
	// unguarded send.
	<-out
	cancel()

	assert.Eventually(t, func() bool {
		_, open := <-out
		return !open
	}, time.Second, 10*time.Millisecond, "sequencer goroutine must close out promptly once ctx is cancelled, not park on a full channel")
}
