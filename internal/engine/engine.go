// Package engine implements the random-access query surface over a node's
// data directory: height/hash lookups, block and transaction retrieval in
// either representation format offers, and the optional connected view
// that resolves each input to the output it spent.
package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"chainquery/internal/blockindex"
	"chainquery/internal/chainerr"
	"chainquery/internal/chainfile"
	"chainquery/internal/format"
	"chainquery/internal/iterator"
	"chainquery/internal/kvstore"
	"chainquery/internal/primitives"
	"chainquery/internal/script"
)

// Options configures Open.
type Options struct {
	// DataDir is the node data directory root (the directory containing
	// blocks/ and, optionally, indexes/txindex/).
	DataDir string
	// TxIndex requests that the engine open the transaction index. If the
	// index store isn't present, Open still succeeds: txid lookups then
	// fail with TxIndexDisabled rather than the engine refusing to start.
	TxIndex bool
	// NetworkOverride forces network selection instead of inferring it
	// from DataDir's path (mainnet, testnet3, signet, regtest).
	NetworkOverride string
	// WorkerPoolSize bounds the connected iterator's prefetch lanes;
	// unused by the engine itself, carried through so callers can build
	// one Options value and hand it to both engine.Open and an iterator.
	WorkerPoolSize int
	Logger         *zap.Logger
}

// Engine answers the query operations against one opened data directory.
// It holds no raw block-file handles: those are opened per call and
// closed before returning, matching the node's own pattern of keeping
// file descriptors short-lived.
type Engine struct {
	dataDir string
	xorKey  []byte
	params  *chaincfg.Params
	log     *zap.Logger

	blockStore *kvstore.Store
	index      *blockindex.Index

	txStore    *kvstore.Store
	txIndex    *blockindex.TxIndex
	txIndexErr error
}

// Open builds an Engine: it opens the block-index store, loads the active
// chain into memory, and — if requested — opens the tx-index store.
func Open(opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	params, err := detectNetwork(opts.DataDir, opts.NetworkOverride)
	if err != nil {
		return nil, err
	}

	xorKey, err := chainfile.LoadXORKey(opts.DataDir)
	if err != nil {
		return nil, err
	}

	blockStorePath := filepath.Join(opts.DataDir, "blocks", "index", "chainquery-blockindex.db")
	blockStore, err := kvstore.Open(blockStorePath)
	if err != nil {
		return nil, fmt.Errorf("open block index: %w", err)
	}

	idx, err := blockindex.Load(blockStore)
	if err != nil {
		_ = blockStore.Close()
		return nil, fmt.Errorf("load block index: %w", err)
	}
	log.Info("loaded active chain", zap.Int64("max_height", idx.MaxHeight()), zap.String("network", params.Name))

	e := &Engine{
		dataDir:    opts.DataDir,
		xorKey:     xorKey,
		params:     params,
		log:        log,
		blockStore: blockStore,
		index:      idx,
	}

	if opts.TxIndex {
		txStorePath := filepath.Join(opts.DataDir, "indexes", "txindex", "chainquery-txindex.db")
		txStore, err := kvstore.Open(txStorePath)
		if err != nil {
			log.Warn("tx index unavailable, txid lookups will fail", zap.Error(err))
			e.txIndexErr = err
		} else {
			e.txStore = txStore
			e.txIndex = blockindex.NewTxIndex(txStore)
		}
	} else {
		e.txIndexErr = chainerr.New(chainerr.TxIndexDisabled, "tx index not requested")
	}

	return e, nil
}

// Close releases every open index store.
func (e *Engine) Close() error {
	var firstErr error
	if e.txStore != nil {
		if err := e.txStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.blockStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Params returns the network parameters the engine selected.
func (e *Engine) Params() *chaincfg.Params { return e.params }

// NewIterator builds a sequential connected-iterator bound to this
// engine's already-loaded active chain index, so the caller never has to
// reload or re-open anything the engine already holds.
func (e *Engine) NewIterator(poolSize int, log *zap.Logger) *iterator.Iterator {
	return iterator.New(e.dataDir, e.xorKey, e.params, e.index, poolSize, log)
}

// GetMaxHeight returns the active chain's tip height.
func (e *Engine) GetMaxHeight() int64 {
	return e.index.MaxHeight()
}

// GetMaxDataHeight returns the highest height whose block bytes are
// actually present on disk, walking down from the tip. Header-only sync
// (spec.md's pruned/pre-IBD scenario) leaves high active-chain entries
// with a known header but StatusHaveData unset; GetMaxHeight alone
// can't distinguish that from a fully-synced tip (SPEC_FULL.md
// supplement).
func (e *Engine) GetMaxDataHeight() int64 {
	for h := e.index.MaxHeight(); h >= 0; h-- {
		rec, ok := e.index.AtHeight(h)
		if ok && rec.HasData() {
			return h
		}
	}
	return -1
}

// GetHashFromHeight returns the active-chain block hash at height.
func (e *Engine) GetHashFromHeight(height int64) (string, error) {
	rec, ok := e.index.AtHeight(height)
	if !ok {
		return "", chainerr.New(chainerr.UnknownHeight, fmt.Sprintf("height %d not on active chain", height))
	}
	return primitives.ReverseHex(rec.Hash[:]), nil
}

// GetHeightFromHash returns the active-chain height of a block hash.
func (e *Engine) GetHeightFromHash(hashHex string) (int64, error) {
	hash, err := parseHash(hashHex)
	if err != nil {
		return 0, err
	}
	h, ok := e.index.HeightOf(hash)
	if !ok {
		return 0, chainerr.New(chainerr.UnknownHash, "hash not on active chain: "+hashHex)
	}
	return h, nil
}

// GetBlockHeader returns the decoded header at height, plus its transaction count.
func (e *Engine) GetBlockHeader(height int64) (format.Header, int, error) {
	rec, ok := e.index.AtHeight(height)
	if !ok {
		return format.Header{}, 0, chainerr.New(chainerr.UnknownHeight, fmt.Sprintf("height %d not on active chain", height))
	}
	var hdr wire.BlockHeader
	if err := hdr.Deserialize(bytes.NewReader(rec.Header[:])); err != nil {
		return format.Header{}, 0, chainerr.Wrap(chainerr.InvalidEncoding, "decode stored header", err)
	}
	return format.BuildHeader(height, rec.Hash, &hdr), int(rec.NumTx), nil
}

// GetBlock returns the block at height. simple selects the Simple
// representation (addresses, no raw bytes); connected resolves every
// non-coinbase input to the output it spent via the tx index.
func (e *Engine) GetBlock(height int64, simple bool, connected bool) (*format.Block, error) {
	rec, ok := e.index.AtHeight(height)
	if !ok {
		return nil, chainerr.New(chainerr.UnknownHeight, fmt.Sprintf("height %d not on active chain", height))
	}
	if !rec.HasData() {
		return nil, chainerr.New(chainerr.BlockNotAvailable, fmt.Sprintf("height %d has no block data on disk", height))
	}
	if connected && e.txIndex == nil {
		return nil, chainerr.Wrap(chainerr.TxIndexDisabled, "connected block view requires the tx index", e.txIndexErr)
	}

	blk, err := e.readBlockFile(rec)
	if err != nil {
		return nil, err
	}

	full := !simple
	out := &format.Block{
		Header:  format.BuildHeader(height, rec.Hash, &blk.Header),
		TxCount: len(blk.Txs),
		TxData:  make([]format.Tx, len(blk.Txs)),
	}
	for i, tx := range blk.Txs {
		var spent []*format.Spent
		if connected && i > 0 {
			spent, err = e.resolveSpentOutputs(tx)
			if err != nil {
				return nil, err
			}
		}
		out.TxData[i] = format.BuildTx(tx, spent, full, e.params)
	}
	return out, nil
}

// GetTransaction returns one transaction by txid, via the tx index.
func (e *Engine) GetTransaction(txidHex string, simple bool, connected bool) (*format.Tx, error) {
	if e.txIndex == nil {
		return nil, chainerr.Wrap(chainerr.TxIndexDisabled, "transaction lookup requires the tx index", e.txIndexErr)
	}
	txid, err := parseHash(txidHex)
	if err != nil {
		return nil, err
	}
	tx, txRec, err := e.lookupTx(txid)
	if err != nil {
		return nil, err
	}

	full := !simple
	var spent []*format.Spent
	if connected && !txRec.Coinbase {
		spent, err = e.resolveSpentOutputs(tx)
		if err != nil {
			return nil, err
		}
	}
	out := format.BuildTx(tx, spent, full, e.params)
	return &out, nil
}

// GetHeightFromTxID returns the height of the block containing txid.
func (e *Engine) GetHeightFromTxID(txidHex string) (int64, error) {
	if e.txIndex == nil {
		return 0, chainerr.Wrap(chainerr.TxIndexDisabled, "txid height lookup requires the tx index", e.txIndexErr)
	}
	txid, err := parseHash(txidHex)
	if err != nil {
		return 0, err
	}
	rec, ok, err := e.txIndex.Lookup(txid)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, chainerr.New(chainerr.UnknownTxID, "txid not in tx index: "+txidHex)
	}
	return int64(rec.ContainingHeight), nil
}

// ParseScript classifies a raw scriptPubKey given as hex. Decoding the hex
// itself can fail (the caller may pass garbage); classification of the
// decoded bytes never does.
func (e *Engine) ParseScript(pkScriptHex string) (script.Decoded, error) {
	raw, err := hex.DecodeString(pkScriptHex)
	if err != nil {
		return script.Decoded{}, chainerr.Wrap(chainerr.InvalidEncoding, "script hex", err)
	}
	return script.Classify(raw, e.params), nil
}

// lookupTx resolves a txid to its decoded transaction and tx-index record.
func (e *Engine) lookupTx(txid [32]byte) (*wire.MsgTx, blockindex.TxRecord, error) {
	rec, ok, err := e.txIndex.Lookup(txid)
	if err != nil {
		return nil, blockindex.TxRecord{}, err
	}
	if !ok {
		return nil, blockindex.TxRecord{}, chainerr.New(chainerr.UnknownTxID, "txid not in tx index: "+primitives.ReverseHex(txid[:]))
	}

	path := blockFilePath(e.dataDir, "blk", rec.FileNumber)
	f, err := os.Open(path)
	if err != nil {
		return nil, rec, chainerr.Wrap(chainerr.IO, "open block file: "+path, err)
	}
	defer f.Close()

	tx, _, err := chainfile.ReadTxAt(f, int64(rec.Offset), rec.Length, e.xorKey)
	if err != nil {
		return nil, rec, err
	}
	return tx, rec, nil
}

// readBlockFile opens rec's containing block file and decodes the full block.
func (e *Engine) readBlockFile(rec *blockindex.Record) (*chainfile.Block, error) {
	path := blockFilePath(e.dataDir, "blk", rec.FileNumber)
	f, err := os.Open(path)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.IO, "open block file: "+path, err)
	}
	defer f.Close()

	blk, err := chainfile.ReadBlockAt(f, int64(rec.DataOffset), uint32(e.params.Net), e.xorKey)
	if err != nil {
		return nil, err
	}
	return blk, nil
}

// resolveSpentOutputs looks up, via the tx index, the previous output for
// every non-coinbase input of tx. Unlike the streaming connected
// iterator (internal/iterator), random access has no UTXO cache to
// consult: each input costs one extra tx-index lookup and block-file
// read, which is the tradeoff spec.md §4.F accepts for point queries.
func (e *Engine) resolveSpentOutputs(tx *wire.MsgTx) ([]*format.Spent, error) {
	spent := make([]*format.Spent, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		prevTxID := [32]byte(txIn.PreviousOutPoint.Hash)
		prevTx, prevRec, err := e.lookupTx(prevTxID)
		if err != nil {
			return nil, err
		}
		vout := txIn.PreviousOutPoint.Index
		if int(vout) >= len(prevTx.TxOut) {
			return nil, chainerr.New(chainerr.ConsistencyError, "prevout index out of range")
		}
		out := prevTx.TxOut[vout]
		spent[i] = &format.Spent{
			TxID: prevTxID,
		}
		spent[i].Entry.Value = out.Value
		spent[i].Entry.PkScript = out.PkScript
		spent[i].Entry.Height = prevRec.ContainingHeight
		spent[i].Entry.Coinbase = prevRec.Coinbase
	}
	return spent, nil
}

// GetUndoBlock decodes the undo-file record paired with the block at
// height. The connected iterator and random-access connected queries
// never consult this path (the UTXO cache and the tx index each make it
// redundant); it exists so a backward-walking tool — outside this
// engine's scope — has somewhere to read spent-output side-data from.
func (e *Engine) GetUndoBlock(height int64) (*chainfile.UndoBlock, error) {
	rec, ok := e.index.AtHeight(height)
	if !ok {
		return nil, chainerr.New(chainerr.UnknownHeight, fmt.Sprintf("height %d not on active chain", height))
	}
	if !rec.HasUndo() {
		return nil, chainerr.New(chainerr.BlockNotAvailable, fmt.Sprintf("height %d has no undo data on disk", height))
	}
	path := blockFilePath(e.dataDir, "rev", rec.FileNumber)
	f, err := os.Open(path)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.IO, "open undo file: "+path, err)
	}
	defer f.Close()

	nonCoinbase := int(rec.NumTx) - 1
	if nonCoinbase < 0 {
		nonCoinbase = 0
	}
	return chainfile.ReadUndoAt(f, int64(rec.UndoOffset), uint32(e.params.Net), nonCoinbase, e.xorKey)
}

func blockFilePath(dataDir, prefix string, fileNumber uint16) string {
	return filepath.Join(dataDir, "blocks", fmt.Sprintf("%s%05d.dat", prefix, fileNumber))
}
