// Package trustcore is the trust and audit core for clinical services:
// field-level encryption, token lifecycle with refresh rotation and
// replay containment, TOTP-based MFA with single-use backup codes, and
// a per-tenant tamper-evident audit chain.
//
// The package is embedded as a library. Construct an [Engine] through
// the [Builder], hand it a [store.Store] implementation and a
// [PrincipalProvider], and call the operation methods. All secrets
// (refresh tokens, TOTP secrets, backup codes) are stored only in
// hashed or encrypted form; raw values exist in memory for the duration
// of a single call.
//
// Fail-closed is the ruling principle: a missing key, an undecryptable
// field, or an unreachable backend surfaces as an error, never as a
// silent pass.
package trustcore
