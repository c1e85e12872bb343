// Package canonical provides deterministic serialization and hashing of
// structured values.
//
// Every identity in a run record (run fingerprint, entry digests, convergence
// hashes) is computed from the canonical form produced here, never from
// encoding/json output directly.
//
// Canonical form rules (RFC 8785 flavoured):
//   - Object keys sorted by UTF-16 code units, after NFC normalization
//   - Strings NFC normalized, no HTML escaping
//   - Integers rendered exactly; other numbers in shortest round-trip form
//   - No insignificant whitespace
//   - NaN, Inf, channels, functions and invalid UTF-8 are unrepresentable
//
// canonical imports nothing internal.
package canonical
