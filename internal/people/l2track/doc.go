// Package l2track owns Layer 2 (Tracks) of the people data model.
//
// Responsibilities: frame-to-frame association of detections to tracks
// via Hungarian assignment, ghost re-identification across occlusion,
// provisional candidate confirmation, and id lifecycle (Active, Ghost,
// Retired).
// Key types: Track, Associator, Update.
//
// Dependency rule: L2 may depend on L1, but never on L3 or above.
// No SQL/database code is allowed in this package.
package l2track
