// Package analysis provides additive, non-consensus transaction
// analytics layered on top of the decoded representation: locktime
// classification, BIP68/BIP125 signaling, and a small set of heuristic
// warnings. None of this validates anything — it only describes what a
// transaction's own fields already say.
package analysis

// LocktimeType classifies a transaction's nLockTime field per Bitcoin's
// own interpretation rule: values below 500000000 are a block height,
// at or above are a unix timestamp, and zero means no locktime.
func LocktimeType(locktime uint32) string {
	switch {
	case locktime == 0:
		return "none"
	case locktime < 500000000:
		return "block_height"
	default:
		return "unix_timestamp"
	}
}

// RelativeTimelock decodes a BIP68 relative timelock from one input's
// nSequence field.
func RelativeTimelock(sequence uint32) (enabled bool, kind string, value uint32) {
	const disableFlag = 1 << 31
	const typeFlag = 1 << 22

	if sequence&disableFlag != 0 {
		return false, "", 0
	}
	if sequence >= 0xfffffffe {
		return false, "", 0
	}
	if sequence&typeFlag != 0 {
		return true, "time", (sequence & 0xffff) * 512
	}
	return true, "blocks", sequence & 0xffff
}

// IsRBFSignaling reports whether any input signals BIP125 replace-by-fee.
func IsRBFSignaling(sequences []uint32) bool {
	for _, seq := range sequences {
		if seq < 0xfffffffe {
			return true
		}
	}
	return false
}

const (
	highFeeSats    = 1_000_000
	highFeeRate    = 200.0 // sat/vB
	dustThreshold  = 546
	unknownScript  = "nonstandard"
	opReturnScript = "op_return"
)

// OutputDesc is the minimal shape GenerateWarnings needs from an output:
// decoupled from format.Output so this package stays independent of it.
type OutputDesc struct {
	ValueSats  int64
	ScriptType string
}

// GenerateWarnings produces the heuristic warning codes a transaction's
// fee and outputs trip. feeSats/feeRate are only meaningful (and should
// only be passed) when the caller resolved every input's spent value.
func GenerateWarnings(feeSats int64, feeRate float64, rbfSignaling bool, outputs []OutputDesc) []string {
	var warnings []string

	if feeSats > highFeeSats || feeRate > highFeeRate {
		warnings = append(warnings, "HIGH_FEE")
	}
	for _, out := range outputs {
		if out.ScriptType != opReturnScript && out.ValueSats < dustThreshold {
			warnings = append(warnings, "DUST_OUTPUT")
			break
		}
	}
	for _, out := range outputs {
		if out.ScriptType == unknownScript {
			warnings = append(warnings, "UNKNOWN_OUTPUT_SCRIPT")
			break
		}
	}
	if rbfSignaling {
		warnings = append(warnings, "RBF_SIGNALING")
	}
	return warnings
}
