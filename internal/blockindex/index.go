package blockindex

import (
	"bytes"
	"sort"

	"chainquery/internal/chainerr"
	"chainquery/internal/kvstore"
)

// Index is the immutable, in-memory active-chain index built once at
// engine construction. Read access needs no locking: it never mutates
// after Load returns.
type Index struct {
	byHeight []*Record          // dense, index 0 == genesis
	byHash   map[[32]byte]int32 // hash -> height, active chain only
}

// Load scans every 'b'-prefixed record in store, decodes it, finds the
// tip with maximum cumulative work, and walks parent pointers back to
// genesis to select the active chain. Non-active records are discarded:
// this engine only ever answers queries about the active chain
// (spec.md §3 invariant).
func Load(store *kvstore.Store) (*Index, error) {
	byHash := make(map[[32]byte]*Record)

	var scanErr error
	err := store.ForEach(BlockKeyPrefix, func(_, value []byte) error {
		rec, err := Decode(value)
		if err != nil {
			scanErr = err
			return err
		}
		byHash[rec.Hash] = rec
		return nil
	})
	if err != nil {
		if scanErr != nil {
			return nil, scanErr
		}
		return nil, chainerr.Wrap(chainerr.IO, "scan block index", err)
	}
	if len(byHash) == 0 {
		return &Index{byHash: map[[32]byte]int32{}}, nil
	}

	tip := bestTip(byHash)

	chain := make([]*Record, 0, tip.Height+1)
	for cur := tip; ; {
		chain = append(chain, cur)
		if cur.Height == 0 {
			break
		}
		parent, ok := byHash[cur.ParentHash]
		if !ok {
			return nil, chainerr.New(chainerr.ConsistencyError, "block index: missing parent in active chain")
		}
		cur = parent
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Height < chain[j].Height })

	idx := &Index{
		byHeight: chain,
		byHash:   make(map[[32]byte]int32, len(chain)),
	}
	for i, rec := range chain {
		if int(rec.Height) != i {
			return nil, chainerr.New(chainerr.ConsistencyError, "block index: non-dense active chain height")
		}
		idx.byHash[rec.Hash] = int32(i)
	}
	return idx, nil
}

// bestTip picks the record with the greatest cumulative work, breaking
// ties on hash for determinism (two equal-work tips cannot both be
// "the" active chain; a real node's actual first-seen order decides
// this case, which this read-only engine cannot observe, so it picks
// deterministically instead).
func bestTip(byHash map[[32]byte]*Record) *Record {
	var best *Record
	for _, rec := range byHash {
		if best == nil {
			best = rec
			continue
		}
		cmp := bytes.Compare(rec.ChainWork[:], best.ChainWork[:])
		if cmp > 0 || (cmp == 0 && bytes.Compare(rec.Hash[:], best.Hash[:]) > 0) {
			best = rec
		}
	}
	return best
}

// MaxHeight returns the highest height on the active chain, or -1 if the index is empty.
func (idx *Index) MaxHeight() int64 {
	return int64(len(idx.byHeight)) - 1
}

// AtHeight returns the record at h, or (nil, false) if h is out of range.
func (idx *Index) AtHeight(h int64) (*Record, bool) {
	if h < 0 || h >= int64(len(idx.byHeight)) {
		return nil, false
	}
	return idx.byHeight[h], true
}

// HeightOf returns the active-chain height of hash, or (-1, false) if unknown.
func (idx *Index) HeightOf(hash [32]byte) (int64, bool) {
	h, ok := idx.byHash[hash]
	if !ok {
		return -1, false
	}
	return int64(h), true
}
