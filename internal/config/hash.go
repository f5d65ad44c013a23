package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns a stable hex digest of the fully normalized
// configuration, recorded in the suite report for provenance. The
// canonical form is the JSON encoding of the config with defaults
// applied: struct field order is fixed and the ordered benchmark and
// refscore lists keep declaration order, so equal configurations hash
// equally across runs and hosts.
func (c *Config) Hash() (string, error) {
	norm := *c
	scaling := c.ScalingOrDefault()
	norm.Scaling = &scaling

	data, err := json.Marshal(&norm)
	if err != nil {
		return "", fmt.Errorf("normalizing configuration: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
