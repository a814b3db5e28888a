package format_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainquery/internal/format"
	"chainquery/internal/utxo"
)

func coinbaseTx(t *testing.T) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	prevOut := wire.NewOutPoint(&chainhash.Hash{}, 0xffffffff)
	tx.AddTxIn(wire.NewTxIn(prevOut, []byte{0x04, 0xff, 0xff, 0x00, 0x1d}, nil))

	hash := make([]byte, 20)
	pkScript := append([]byte{0x76, 0xa9, 0x14}, hash...)
	pkScript = append(pkScript, 0x88, 0xac)
	tx.AddTxOut(wire.NewTxOut(5_000_000_000, pkScript))
	return tx
}

func TestBuildHeader(t *testing.T) {
	h := &wire.BlockHeader{
		Version:    1,
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       0x1d00ffff,
		Nonce:      2083236893,
	}
	var hash [32]byte
	hash[0] = 0x01

	hdr := format.BuildHeader(0, hash, h)
	assert.Equal(t, int64(0), hdr.Height)
	assert.Equal(t, uint32(0x1d00ffff), hdr.Bits)
	assert.Equal(t, uint32(2083236893), hdr.Nonce)
}

func TestBuildTxSimpleCoinbase(t *testing.T) {
	tx := coinbaseTx(t)
	out := format.BuildTx(tx, nil, false, &chaincfg.MainNetParams)

	require.Len(t, out.Outputs, 1)
	assert.Equal(t, int64(5_000_000_000), out.Outputs[0].Value)
	assert.Equal(t, "p2pkh", out.Outputs[0].ScriptType)
	require.Len(t, out.Inputs, 1)
	assert.NotNil(t, out.Inputs[0].Outpoint)
	assert.Nil(t, out.Inputs[0].SpentOutput)
	// Simple representation omits raw script bytes.
	assert.Empty(t, out.Outputs[0].ScriptPubkeyHex)
	assert.Empty(t, out.LocktimeType, "analytics are full-only")
}

func TestBuildTxFullWithSpentOutput(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	var prevTxID chainhash.Hash
	prevTxID[0] = 0xaa
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevTxID, 0), []byte{0x01, 0x02}, nil))

	hash := make([]byte, 20)
	pkScript := append([]byte{0x76, 0xa9, 0x14}, hash...)
	pkScript = append(pkScript, 0x88, 0xac)
	tx.AddTxOut(wire.NewTxOut(4_999_000_000, pkScript))

	spentScript := append([]byte{0x76, 0xa9, 0x14}, hash...)
	spentScript = append(spentScript, 0x88, 0xac)
	spent := []*format.Spent{{
		Entry: utxo.Entry{Value: 5_000_000_000, PkScript: spentScript, Height: 9, Coinbase: true},
		TxID:  [32]byte(prevTxID),
	}}

	out := format.BuildTx(tx, spent, true, &chaincfg.MainNetParams)
	require.Len(t, out.Inputs, 1)
	require.NotNil(t, out.Inputs[0].SpentOutput)
	assert.Equal(t, int64(5_000_000_000), out.Inputs[0].SpentOutput.Value)
	assert.True(t, out.Inputs[0].SpentOutput.Coinbase)
	assert.Equal(t, "none", out.LocktimeType)
	// Every input resolved: fee-dependent warnings are computed. The fee is
	// 1,000,000 sats over an 87-byte transaction, far above 200 sat/vB.
	assert.Contains(t, out.Warnings, "HIGH_FEE")
}

func TestBuildTxFullWithoutConnectedOmitsWarnings(t *testing.T) {
	tx := coinbaseTx(t)
	out := format.BuildTx(tx, nil, true, &chaincfg.MainNetParams)
	assert.Nil(t, out.Warnings, "fee-dependent warnings require every spent output resolved")
}
