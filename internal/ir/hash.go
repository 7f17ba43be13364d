package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainActionPayload   = "entsync/action-payload/v1"
	DomainFeedbackPayload = "entsync/feedback-payload/v1"
	DomainEntity          = "entsync/entity/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a stable content hash of obj under domain.
// Golden traces record fingerprints instead of whole payloads so a
// change in any resolved option is visible without bloating the trace.
func Fingerprint(domain string, obj IRObject) (string, error) {
	canonical, err := marshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// EntityFingerprint hashes the host-visible identity of an entity definition.
func EntityFingerprint(e Entity) (string, error) {
	return Fingerprint(DomainEntity, e.toObject())
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(domain string, obj IRObject) string {
	fp, err := Fingerprint(domain, obj)
	if err != nil {
		panic(err)
	}
	return fp
}
