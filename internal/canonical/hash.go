package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFingerprint = "phaseledger/fingerprint/v1"
	DomainEntry       = "phaseledger/entry/v1"
	DomainConvergence = "phaseledger/convergence/v1"
	DomainTrace       = "phaseledger/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes the canonical form of v under the given domain.
func Digest(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// Fingerprint identifies a run by its pipeline definition, configuration
// snapshot and contract versions. Map insertion order, key order and any
// wall-clock data the caller leaves out cannot influence the result.
//
// The four inputs are placed under fixed keys of one canonical object, which
// is equivalent to concatenating their canonical forms without the boundary
// ambiguity of raw concatenation.
func Fingerprint(pipelineDef, configSnapshot any, contractVersion, agentContractVersion string) (string, error) {
	obj := map[string]any{
		"pipeline_definition":    pipelineDef,
		"config":                 configSnapshot,
		"contract_version":       contractVersion,
		"agent_contract_version": agentContractVersion,
	}
	data, err := Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainFingerprint, data), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(pipelineDef, configSnapshot any, contractVersion, agentContractVersion string) string {
	fp, err := Fingerprint(pipelineDef, configSnapshot, contractVersion, agentContractVersion)
	if err != nil {
		panic(err)
	}
	return fp
}

// PromptHash returns a stable SHA-256 of prompt text: surrounding whitespace
// trimmed, NFC normalized, no domain prefix.
func PromptHash(prompt string) string {
	normalized := norm.NFC.String(strings.TrimSpace(prompt))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
