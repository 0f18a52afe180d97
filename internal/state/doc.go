// Package state provides the dynamic value tree shared by every layer of
// rewind, plus the three deterministic algorithms defined over it:
// canonical serialization, state hashing, and structural diff.
//
// This package contains value types and pure functions only. All other
// internal packages import state; state imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a closed tagged-variant type (Null, Bool, Number, BigInt,
//     String, Array, Object). No runtime reflection over arbitrary types.
//   - Canonicalize is pure and total: every Value has exactly one canonical
//     form, independent of object key insertion order, and two structurally
//     equal values canonicalize byte-for-byte identically.
//   - Hash carries its result (digest plus unsafe-number flag) per call.
//     There is no shared mutable scratch state, so concurrent calls are
//     always isolated.
//   - Integer literals beyond MaxSafeInteger decode as BigInt, never as a
//     rounded float64.
package state
