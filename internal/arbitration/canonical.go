package arbitration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalizeValue hashes v's JSON encoding for deep structural
// comparison, mirroring proposal.canonicalize (json.Marshal sorts map
// keys, so equal structures hash identically regardless of field order).
func canonicalizeValue(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
