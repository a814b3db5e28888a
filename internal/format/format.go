// Package format converts engine results into the two representations
// spec.md §4.H and §6 describe: Simple (decoded addresses, no witness,
// analytics-friendly) and Full (every raw byte needed to re-serialise).
// Both variants share one Go type per record so a caller can switch
// Full on without touching field names — only an explicit format.JSON
// call opts into serializing it (spec.md §9's Open Question, resolved).
package format

import (
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"chainquery/internal/analysis"
	"chainquery/internal/primitives"
	"chainquery/internal/script"
	"chainquery/internal/utxo"
)

// Header is a block header plus the fields derived from it.
type Header struct {
	Height     int64  `json:"height"`
	Hash       string `json:"hash"`
	Version    int32  `json:"version,omitempty"`
	PrevHash   string `json:"prev_hash"`
	MerkleRoot string `json:"merkle_root"`
	Time       uint32 `json:"time"`
	Bits       uint32 `json:"bits"`
	Nonce      uint32 `json:"nonce"`
}

// Outpoint identifies a spent output when the consumer did not ask for
// the connected view.
type Outpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// SpentOutput is an input's previous output, filled in when the
// consumer asked for the connected view.
type SpentOutput struct {
	Value      int64    `json:"value"`
	ScriptType string   `json:"script_type"`
	Addresses  []string `json:"addresses"`
	Height     uint32   `json:"height"`
	Coinbase   bool     `json:"coinbase"`
	// ScriptPubkeyHex is populated only in Full mode.
	ScriptPubkeyHex string `json:"script_pubkey_hex,omitempty"`
}

// Input is a transaction input in either representation.
type Input struct {
	// Exactly one of Outpoint or SpentOutput is set, matching spec.md
	// §6's documented `outpoint|spent_output` union.
	Outpoint    *Outpoint    `json:"outpoint,omitempty"`
	SpentOutput *SpentOutput `json:"spent_output,omitempty"`

	// Full-only fields.
	Sequence     uint32   `json:"sequence,omitempty"`
	ScriptSigHex string   `json:"script_sig_hex,omitempty"`
	Witness      []string `json:"witness,omitempty"`
}

// Output is a transaction output in either representation.
type Output struct {
	Value      int64    `json:"value"`
	ScriptType string   `json:"script_type"`
	Addresses  []string `json:"addresses"`
	// ScriptPubkeyHex is populated only in Full mode.
	ScriptPubkeyHex string `json:"script_pubkey_hex,omitempty"`
}

// Tx is a transaction in either representation.
type Tx struct {
	TxID     string   `json:"txid"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	Locktime uint32   `json:"locktime"`

	// Full-only fields.
	WTxID        string `json:"wtxid,omitempty"`
	Version      int32  `json:"version,omitempty"`
	SegwitMarker bool   `json:"segwit,omitempty"`

	// Full-only analytics (SPEC_FULL.md's per-transaction analytics
	// supplement). Warnings is only populated when every input's spent
	// output was resolved (connected, non-coinbase); otherwise the fee
	// it depends on is unknown and the field is left empty rather than
	// reporting a partial result.
	LocktimeType string   `json:"locktime_type,omitempty"`
	RBFSignaling bool     `json:"rbf_signaling,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Block is a block in either representation.
type Block struct {
	Header
	TxCount int   `json:"tx_count"`
	TxData  []Tx  `json:"txdata"`
}

// JSON marshals v (a Header, Tx, or Block) to JSON — the explicit
// opt-in spec.md §9 calls for; the Go API otherwise returns objects.
func JSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Spent is the already-resolved previous output for one input, or nil
// for a disconnected view.
type Spent struct {
	Entry utxo.Entry
	TxID  [32]byte
}

// BuildHeader converts a raw 80-byte header plus derived fields into the shared representation.
func BuildHeader(height int64, hash [32]byte, h *wire.BlockHeader) Header {
	return Header{
		Height:     height,
		Hash:       primitives.ReverseHex(hash[:]),
		Version:    h.Version,
		PrevHash:   primitives.ReverseHex(h.PrevBlock[:]),
		MerkleRoot: primitives.ReverseHex(h.MerkleRoot[:]),
		Time:       uint32(h.Timestamp.Unix()),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// BuildTx converts a decoded transaction into the shared representation.
// spent[i] gives the resolved previous output for tx.TxIn[i], or nil if
// input i is disconnected (coinbase, or the caller did not request the
// connected view).
func BuildTx(tx *wire.MsgTx, spent []*Spent, full bool, params *chaincfg.Params) Tx {
	out := Tx{
		TxID:     tx.TxHash().String(),
		Locktime: tx.LockTime,
	}
	if full {
		out.Version = tx.Version
		out.SegwitMarker = tx.HasWitness()
		if out.SegwitMarker {
			out.WTxID = tx.WitnessHash().String()
		}
	}

	out.Inputs = make([]Input, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		in := Input{}
		if full {
			in.Sequence = txIn.Sequence
			in.ScriptSigHex = hex.EncodeToString(txIn.SignatureScript)
			if len(txIn.Witness) > 0 {
				in.Witness = make([]string, len(txIn.Witness))
				for j, w := range txIn.Witness {
					in.Witness[j] = hex.EncodeToString(w)
				}
			}
		}

		if i < len(spent) && spent[i] != nil {
			dec := script.Classify(spent[i].Entry.PkScript, params)
			so := &SpentOutput{
				Value:      spent[i].Entry.Value,
				ScriptType: string(dec.Type),
				Addresses:  dec.Addresses,
				Height:     spent[i].Entry.Height,
				Coinbase:   spent[i].Entry.Coinbase,
			}
			if full {
				so.ScriptPubkeyHex = hex.EncodeToString(spent[i].Entry.PkScript)
			}
			in.SpentOutput = so
		} else {
			in.Outpoint = &Outpoint{
				TxID: txIn.PreviousOutPoint.Hash.String(),
				Vout: txIn.PreviousOutPoint.Index,
			}
		}
		out.Inputs[i] = in
	}

	out.Outputs = make([]Output, len(tx.TxOut))
	for i, txOut := range tx.TxOut {
		dec := script.Classify(txOut.PkScript, params)
		o := Output{
			Value:      txOut.Value,
			ScriptType: string(dec.Type),
			Addresses:  dec.Addresses,
		}
		if full {
			o.ScriptPubkeyHex = hex.EncodeToString(txOut.PkScript)
		}
		out.Outputs[i] = o
	}

	if full {
		out.LocktimeType = analysis.LocktimeType(tx.LockTime)
		sequences := make([]uint32, len(tx.TxIn))
		for i, txIn := range tx.TxIn {
			sequences[i] = txIn.Sequence
		}
		out.RBFSignaling = analysis.IsRBFSignaling(sequences)

		if allSpentResolved(spent, len(tx.TxIn)) {
			var inputTotal, outputTotal int64
			for _, s := range spent {
				inputTotal += s.Entry.Value
			}
			for _, o := range out.Outputs {
				outputTotal += o.Value
			}
			feeSats := inputTotal - outputTotal
			feeRate := float64(feeSats) / float64(tx.SerializeSize())

			descs := make([]analysis.OutputDesc, len(out.Outputs))
			for i, o := range out.Outputs {
				descs[i] = analysis.OutputDesc{ValueSats: o.Value, ScriptType: o.ScriptType}
			}
			out.Warnings = analysis.GenerateWarnings(feeSats, feeRate, out.RBFSignaling, descs)
		}
	}

	return out
}

// allSpentResolved reports whether every input has a resolved spent
// output, the precondition for fee-dependent warnings.
func allSpentResolved(spent []*Spent, numInputs int) bool {
	if numInputs == 0 || len(spent) != numInputs {
		return false
	}
	for _, s := range spent {
		if s == nil {
			return false
		}
	}
	return true
}
