package runtime

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashConfig derives the idempotency key for one runtime configuration. The
// config is canonicalized through a JSON round trip (object keys marshal
// sorted) so byte-order differences in the caller's encoding never split one
// logical config into two records.
func HashConfig(runtimeType string, config json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(config)
	if err != nil {
		return "", fmt.Errorf("canonicalizing runtime config: %w", err)
	}

	hasher := blake3.New()
	hasher.Write([]byte(runtimeType))
	hasher.Write([]byte{0})
	hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// ShortHash is the truncated form used in resource names (image tags, Lambda
// function names, container labels).
func ShortHash(configHash string) string {
	if len(configHash) <= 12 {
		return configHash
	}
	return configHash[:12]
}
