package engine

import (
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	"chainquery/internal/chainerr"
)

// detectNetwork picks the chaincfg.Params matching a node data directory.
// Bitcoin Core lays out non-mainnet data under a network-named
// subdirectory of the configured datadir (testnet3/, signet/, regtest/);
// mainnet has no such suffix. override, when non-empty, skips the path
// heuristic entirely (SPEC_FULL.md's NETWORK_OVERRIDE configuration knob).
func detectNetwork(dataDir, override string) (*chaincfg.Params, error) {
	name := strings.ToLower(override)
	if name == "" {
		base := strings.ToLower(filepath.Base(filepath.Clean(dataDir)))
		switch base {
		case "testnet3":
			name = "testnet3"
		case "signet":
			name = "signet"
		case "regtest":
			name = "regtest"
		default:
			name = "mainnet"
		}
	}

	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, chainerr.New(chainerr.InvalidEncoding, "unrecognised network: "+name)
	}
}
