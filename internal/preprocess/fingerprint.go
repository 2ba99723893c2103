package preprocess

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// fingerprintEntry is the canonical form of one step. encoding/json writes
// struct fields in declaration order and map keys sorted, which makes the
// encoding independent of how the params were read.
type fingerprintEntry struct {
	Name       string         `json:"name"`
	ClassPath  string         `json:"class_path"`
	Params     map[string]any `json:"params"`
	SourceHash string         `json:"source_hash"`
}

// Fingerprint returns the SHA-256 hex digest of a chain configuration,
// resolved against the default registry. Equal configurations always have
// equal fingerprints; changing the order, a name, a class or a param changes it.
func Fingerprint(steps []StepConfig) (string, error) {
	regs, err := resolveSteps(defaultRegistry, steps)
	if err != nil {
		return "", err
	}
	return fingerprint(steps, regs)
}

func fingerprint(steps []StepConfig, regs []Registration) (string, error) {
	entries := make([]fingerprintEntry, len(steps))
	for i, s := range steps {
		p := s.Params
		if p == nil {
			p = map[string]any{}
		}
		entries[i] = fingerprintEntry{
			Name:       s.Name,
			ClassPath:  regs[i].ClassPath(),
			Params:     p,
			SourceHash: regs[i].SourceHash(),
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode chain: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
