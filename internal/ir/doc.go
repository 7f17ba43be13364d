// Package ir provides the entity model shared by every entsync package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - EntityKind is a closed sum type; dispatch through MatchKind
//   - Option values are the sealed IRValue family (JSON-like)
//   - Canonical JSON (RFC 8785 ordering, NFC strings) for storage and hashing
//   - All JSON tags use snake_case
package ir
