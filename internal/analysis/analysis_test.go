package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chainquery/internal/analysis"
)

func TestLocktimeType(t *testing.T) {
	assert.Equal(t, "none", analysis.LocktimeType(0))
	assert.Equal(t, "block_height", analysis.LocktimeType(500000))
	assert.Equal(t, "unix_timestamp", analysis.LocktimeType(1700000000))
}

func TestRelativeTimelockBlocks(t *testing.T) {
	enabled, kind, value := analysis.RelativeTimelock(144)
	assert.True(t, enabled)
	assert.Equal(t, "blocks", kind)
	assert.Equal(t, uint32(144), value)
}

func TestRelativeTimelockTime(t *testing.T) {
	const typeFlag = 1 << 22
	enabled, kind, value := analysis.RelativeTimelock(typeFlag | 2)
	assert.True(t, enabled)
	assert.Equal(t, "time", kind)
	assert.Equal(t, uint32(1024), value)
}

func TestRelativeTimelockDisabled(t *testing.T) {
	const disableFlag = 1 << 31
	enabled, _, _ := analysis.RelativeTimelock(disableFlag)
	assert.False(t, enabled)
}

func TestIsRBFSignaling(t *testing.T) {
	assert.True(t, analysis.IsRBFSignaling([]uint32{0xfffffffd}))
	assert.False(t, analysis.IsRBFSignaling([]uint32{0xffffffff, 0xfffffffe}))
}

func TestGenerateWarningsHighFee(t *testing.T) {
	warnings := analysis.GenerateWarnings(2_000_000, 10, false, nil)
	assert.Contains(t, warnings, "HIGH_FEE")
}

func TestGenerateWarningsDustOutput(t *testing.T) {
	outputs := []analysis.OutputDesc{{ValueSats: 100, ScriptType: "p2pkh"}}
	warnings := analysis.GenerateWarnings(1000, 1, false, outputs)
	assert.Contains(t, warnings, "DUST_OUTPUT")
}

func TestGenerateWarningsOpReturnExemptFromDust(t *testing.T) {
	outputs := []analysis.OutputDesc{{ValueSats: 0, ScriptType: "op_return"}}
	warnings := analysis.GenerateWarnings(1000, 1, false, outputs)
	assert.NotContains(t, warnings, "DUST_OUTPUT")
}

func TestGenerateWarningsNone(t *testing.T) {
	outputs := []analysis.OutputDesc{{ValueSats: 100000, ScriptType: "p2pkh"}}
	warnings := analysis.GenerateWarnings(1000, 1, false, outputs)
	assert.Empty(t, warnings)
}
