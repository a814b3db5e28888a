package chainfile

import (
	"os"
	"path/filepath"

	"chainquery/internal/chainerr"
)

// xorKeyFile is where a node data directory stores its block-file
// obfuscation key (introduced to keep antivirus heuristics from
// flagging blk*.dat as suspicious). Older data directories have none,
// which simply means no obfuscation is applied.
const xorKeyFile = "xor.key"

// LoadXORKey reads the obfuscation key from <dataDir>/blocks/xor.key, or
// returns a nil key if the file doesn't exist.
func LoadXORKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "blocks", xorKeyFile)
	key, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, chainerr.Wrap(chainerr.IO, "read xor key: "+path, err)
	}
	return key, nil
}

// deobfuscate XORs buf in place against key, cycling key by buf's
// absolute position within the file (absOffset), not by buf's own
// index: a read starting mid-file must pick up the key at the same
// phase a read from byte zero would have reached by that offset. A nil
// or empty key is a no-op.
func deobfuscate(buf []byte, key []byte, absOffset int64) {
	if len(key) == 0 {
		return
	}
	klen := int64(len(key))
	for i := range buf {
		buf[i] ^= key[(absOffset+int64(i))%klen]
	}
}
