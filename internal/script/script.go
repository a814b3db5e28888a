// Package script classifies Bitcoin scriptPubKey templates and derives
// addresses from them. It never fails: an unrecognised shape classifies
// as NonStandard rather than returning an error (spec invariant: parse_script
// is total).
package script

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Type names the standard scriptPubKey template a script matches.
type Type string

const (
	P2PK         Type = "p2pk"
	P2PKH        Type = "p2pkh"
	P2SH         Type = "p2sh"
	MultisigBare Type = "multisig"
	P2WPKH       Type = "p2wpkh"
	P2WSH        Type = "p2wsh"
	P2TR         Type = "p2tr"
	OpReturn     Type = "op_return"
	NonStandard  Type = "nonstandard"
)

// Decoded is the result of classifying a scriptPubKey.
type Decoded struct {
	Type Type
	// Addresses holds every address the script pays to: one for
	// P2PK/P2PKH/P2SH/P2WPKH/P2WSH/P2TR, n for bare multisig, none
	// otherwise.
	Addresses []string
	// RequiredSigs and TotalKeys are set only for MultisigBare (the m, n of an m-of-n script).
	RequiredSigs int
	TotalKeys    int
	// OpReturnData is set only for OpReturn.
	OpReturnData     []byte
	OpReturnDataUTF8 *string
	// OpReturnProtocol best-effort tags a few well-known OP_RETURN data
	// prefixes (supplement beyond spec.md, carried from the teacher's
	// richer transaction analysis).
	OpReturnProtocol string
}

// MatchType classifies a scriptPubKey's template without deriving
// addresses (no network parameters required). Used where only the shape
// matters, e.g. input-script classification against a prevout script.
func MatchType(pkScript []byte) Type {
	if len(pkScript) == 0 {
		return NonStandard
	}
	if pkScript[0] == txscript.OP_RETURN {
		return OpReturn
	}
	if _, ok := matchP2PK(pkScript); ok {
		return P2PK
	}
	if _, ok := matchP2PKH(pkScript); ok {
		return P2PKH
	}
	if _, ok := matchP2SH(pkScript); ok {
		return P2SH
	}
	if _, ok := matchWitnessPush(pkScript, 0, 20); ok {
		return P2WPKH
	}
	if _, ok := matchWitnessPush(pkScript, 0, 32); ok {
		return P2WSH
	}
	if _, ok := matchWitnessPush(pkScript, 1, 32); ok {
		return P2TR
	}
	if _, _, ok := matchBareMultisig(pkScript); ok {
		return MultisigBare
	}
	return NonStandard
}

// Classify recognises the standard scriptPubKey templates and derives
// addresses for the given network. Unrecognised shapes return NonStandard
// with no addresses — this function never returns an error.
func Classify(pkScript []byte, params *chaincfg.Params) Decoded {
	if len(pkScript) == 0 {
		return Decoded{Type: NonStandard}
	}

	if pkScript[0] == txscript.OP_RETURN {
		data := extractOpReturnData(pkScript)
		d := Decoded{Type: OpReturn, OpReturnData: data, OpReturnProtocol: "unknown"}
		if len(data) > 0 && utf8.Valid(data) {
			s := string(data)
			d.OpReturnDataUTF8 = &s
		}
		switch {
		case len(data) >= 4 && string(data[:4]) == "omni":
			d.OpReturnProtocol = "omni"
		case len(data) >= 5 && hex.EncodeToString(data[:5]) == "0109f91102":
			d.OpReturnProtocol = "opentimestamps"
		}
		return d
	}

	if pk, ok := matchP2PK(pkScript); ok {
		addr, err := btcutil.NewAddressPubKey(pk, params)
		if err != nil {
			return Decoded{Type: NonStandard}
		}
		return Decoded{Type: P2PK, Addresses: []string{addr.AddressPubKeyHash().EncodeAddress()}}
	}

	if hash, ok := matchP2PKH(pkScript); ok {
		addr, err := btcutil.NewAddressPubKeyHash(hash, params)
		if err != nil {
			return Decoded{Type: NonStandard}
		}
		return Decoded{Type: P2PKH, Addresses: []string{addr.EncodeAddress()}}
	}

	if hash, ok := matchP2SH(pkScript); ok {
		addr, err := btcutil.NewAddressScriptHashFromHash(hash, params)
		if err != nil {
			return Decoded{Type: NonStandard}
		}
		return Decoded{Type: P2SH, Addresses: []string{addr.EncodeAddress()}}
	}

	if hash, ok := matchWitnessPush(pkScript, 0, 20); ok {
		addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
		if err != nil {
			return Decoded{Type: NonStandard}
		}
		return Decoded{Type: P2WPKH, Addresses: []string{addr.EncodeAddress()}}
	}

	if hash, ok := matchWitnessPush(pkScript, 0, 32); ok {
		addr, err := btcutil.NewAddressWitnessScriptHash(hash, params)
		if err != nil {
			return Decoded{Type: NonStandard}
		}
		return Decoded{Type: P2WSH, Addresses: []string{addr.EncodeAddress()}}
	}

	if x, ok := matchWitnessPush(pkScript, 1, 32); ok {
		addr, err := btcutil.NewAddressTaproot(x, params)
		if err != nil {
			return Decoded{Type: NonStandard}
		}
		return Decoded{Type: P2TR, Addresses: []string{addr.EncodeAddress()}}
	}

	if m, pubkeys, ok := matchBareMultisig(pkScript); ok {
		addrs := make([]string, 0, len(pubkeys))
		for _, pk := range pubkeys {
			addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pk), params)
			if err != nil {
				return Decoded{Type: NonStandard}
			}
			addrs = append(addrs, addr.EncodeAddress())
		}
		return Decoded{Type: MultisigBare, Addresses: addrs, RequiredSigs: m, TotalKeys: len(pubkeys)}
	}

	return Decoded{Type: NonStandard}
}

// matchP2PK matches `<pubkey> OP_CHECKSIG` and returns the raw pubkey bytes.
func matchP2PK(s []byte) ([]byte, bool) {
	if len(s) < 2 {
		return nil, false
	}
	if s[len(s)-1] != txscript.OP_CHECKSIG {
		return nil, false
	}
	push, n, ok := readPush(s, 0)
	if !ok || n != len(s)-1 {
		return nil, false
	}
	if len(push) != 33 && len(push) != 65 {
		return nil, false
	}
	return push, true
}

// matchP2PKH matches `OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG`.
func matchP2PKH(s []byte) ([]byte, bool) {
	if len(s) != 25 {
		return nil, false
	}
	if s[0] != txscript.OP_DUP || s[1] != txscript.OP_HASH160 || s[2] != 0x14 ||
		s[23] != txscript.OP_EQUALVERIFY || s[24] != txscript.OP_CHECKSIG {
		return nil, false
	}
	return s[3:23], true
}

// matchP2SH matches `OP_HASH160 <20 bytes> OP_EQUAL`.
func matchP2SH(s []byte) ([]byte, bool) {
	if len(s) != 23 {
		return nil, false
	}
	if s[0] != txscript.OP_HASH160 || s[1] != 0x14 || s[22] != txscript.OP_EQUAL {
		return nil, false
	}
	return s[2:22], true
}

// matchWitnessPush matches `<witness version> <push of exactly pushLen bytes>`,
// the shared shape of P2WPKH/P2WSH (version 0) and P2TR (version 1).
func matchWitnessPush(s []byte, version int, pushLen int) ([]byte, bool) {
	if len(s) != 2+pushLen {
		return nil, false
	}
	wantVersionOp := byte(txscript.OP_0)
	if version > 0 {
		wantVersionOp = txscript.OP_1 + byte(version-1)
	}
	if s[0] != wantVersionOp || s[1] != byte(pushLen) {
		return nil, false
	}
	return s[2 : 2+pushLen], true
}

// matchBareMultisig matches `<m> <pk>... <n> OP_CHECKMULTISIG`.
func matchBareMultisig(s []byte) (m int, pubkeys [][]byte, ok bool) {
	if len(s) < 3 || s[len(s)-1] != txscript.OP_CHECKMULTISIG {
		return 0, nil, false
	}
	i := 0
	mOp, ni, okOp := readSmallInt(s, i)
	if !okOp {
		return 0, nil, false
	}
	i = ni

	var keys [][]byte
	for {
		if i >= len(s)-1 {
			return 0, nil, false
		}
		if n, ni2, isInt := readSmallInt(s, i); isInt {
			if n != len(keys) {
				return 0, nil, false
			}
			i = ni2
			break
		}
		push, ni2, pushed := readPush(s, i)
		if !pushed || len(push) != 33 && len(push) != 65 {
			return 0, nil, false
		}
		keys = append(keys, push)
		i = ni2
	}
	if i != len(s)-1 {
		return 0, nil, false
	}
	if mOp < 1 || mOp > len(keys) || len(keys) > 20 {
		return 0, nil, false
	}
	return mOp, keys, true
}

// readSmallInt reads an OP_1..OP_16 (or OP_0) small-integer opcode at
// offset i, returning its value and the offset past it.
func readSmallInt(s []byte, i int) (val int, next int, ok bool) {
	if i >= len(s) {
		return 0, i, false
	}
	op := s[i]
	switch {
	case op == txscript.OP_0:
		return 0, i + 1, true
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return int(op-txscript.OP_1) + 1, i + 1, true
	default:
		return 0, i, false
	}
}

// readPush reads a single data-push opcode (direct push or PUSHDATA1/2/4)
// at offset i, returning the pushed bytes and the offset past them.
func readPush(s []byte, i int) (data []byte, next int, ok bool) {
	if i >= len(s) {
		return nil, i, false
	}
	op := s[i]
	switch {
	case op >= 0x01 && op <= 0x4b:
		n := int(op)
		if i+1+n > len(s) {
			return nil, i, false
		}
		return s[i+1 : i+1+n], i + 1 + n, true
	case op == txscript.OP_PUSHDATA1:
		if i+2 > len(s) {
			return nil, i, false
		}
		n := int(s[i+1])
		if i+2+n > len(s) {
			return nil, i, false
		}
		return s[i+2 : i+2+n], i + 2 + n, true
	case op == txscript.OP_PUSHDATA2:
		if i+3 > len(s) {
			return nil, i, false
		}
		n := int(binary.LittleEndian.Uint16(s[i+1 : i+3]))
		if i+3+n > len(s) {
			return nil, i, false
		}
		return s[i+3 : i+3+n], i + 3 + n, true
	case op == txscript.OP_PUSHDATA4:
		if i+5 > len(s) {
			return nil, i, false
		}
		n := int(binary.LittleEndian.Uint32(s[i+1 : i+5]))
		if i+5+n > len(s) {
			return nil, i, false
		}
		return s[i+5 : i+5+n], i + 5 + n, true
	default:
		return nil, i, false
	}
}

// extractOpReturnData concatenates every data push following OP_RETURN.
func extractOpReturnData(s []byte) []byte {
	var out []byte
	i := 1
	for i < len(s) {
		push, next, ok := readPush(s, i)
		if !ok {
			break
		}
		out = append(out, push...)
		i = next
	}
	return out
}

// ClassifyInput determines the script type of a transaction input given
// its scriptSig, witness stack, and the scriptPubKey it spends.
func ClassifyInput(scriptSig []byte, witness [][]byte, prevoutScript []byte) Type {
	scriptSigEmpty := len(scriptSig) == 0
	hasWitness := len(witness) > 0
	prevoutType := MatchType(prevoutScript)

	switch {
	case scriptSigEmpty && len(witness) == 1 && (len(witness[0]) == 64 || len(witness[0]) == 65) && prevoutType == P2TR:
		return "p2tr_keypath"
	case scriptSigEmpty && len(witness) > 1 && prevoutType == P2TR:
		last := witness[len(witness)-1]
		if len(last) > 0 && last[0]&0xfe == 0xc0 {
			return "p2tr_scriptpath"
		}
	case scriptSigEmpty && len(witness) == 2 && prevoutType == P2WPKH:
		return P2WPKH
	case scriptSigEmpty && hasWitness && prevoutType == P2WSH:
		return P2WSH
	case len(scriptSig) == 23 && scriptSig[0] == 0x16 && scriptSig[1] == 0x00 && scriptSig[2] == 0x14 && len(witness) == 2:
		return "p2sh-p2wpkh"
	case len(scriptSig) == 35 && scriptSig[0] == 0x22 && scriptSig[1] == 0x00 && scriptSig[2] == 0x20 && hasWitness:
		return "p2sh-p2wsh"
	case !scriptSigEmpty && !hasWitness && prevoutType == P2PKH:
		return P2PKH
	case !scriptSigEmpty && !hasWitness && prevoutType == P2SH:
		return P2SH
	case !scriptSigEmpty && !hasWitness && prevoutType == P2PK:
		return P2PK
	case scriptSigEmpty && !hasWitness:
		if prevoutType == P2PKH || prevoutType == P2SH {
			return prevoutType
		}
	}
	return NonStandard
}

// Disassemble renders script bytes as human-readable ASM: named opcodes,
// OP_PUSHBYTES_<n>/OP_PUSHDATA1/2/4 with hex payloads, and
// OP_UNKNOWN_0x<nn> for anything else.
func Disassemble(s []byte) string {
	if len(s) == 0 {
		return ""
	}
	var parts []string
	i := 0
	for i < len(s) {
		op := s[i]
		switch {
		case op == 0x00:
			parts = append(parts, "OP_0")
			i++
		case op >= 0x01 && op <= 0x4b:
			data, next, ok := readPush(s, i)
			if !ok {
				parts = append(parts, fmt.Sprintf("OP_PUSHBYTES_%d", int(op)))
				i = len(s)
				break
			}
			parts = append(parts, fmt.Sprintf("OP_PUSHBYTES_%d %s", int(op), hex.EncodeToString(data)))
			i = next
		case op == txscript.OP_PUSHDATA1 || op == txscript.OP_PUSHDATA2 || op == txscript.OP_PUSHDATA4:
			name := map[byte]string{
				txscript.OP_PUSHDATA1: "OP_PUSHDATA1",
				txscript.OP_PUSHDATA2: "OP_PUSHDATA2",
				txscript.OP_PUSHDATA4: "OP_PUSHDATA4",
			}[op]
			data, next, ok := readPush(s, i)
			if !ok {
				parts = append(parts, name)
				i = len(s)
				break
			}
			parts = append(parts, fmt.Sprintf("%s %s", name, hex.EncodeToString(data)))
			i = next
		default:
			parts = append(parts, opcodeName(op))
			i++
		}
	}
	return strings.Join(parts, " ")
}
