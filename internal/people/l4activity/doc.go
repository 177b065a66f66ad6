// Package l4activity owns Layer 4 (Activity) of the people data model.
//
// Responsibilities: per-person keypoint history, centroid speed over a
// stream-time window, posture features (hip and head angles), rule-based
// activity labels and mode smoothing over a trailing label window.
// Key types: Classifier, Observation, KeypointHistory, Label.
//
// Dependency rule: L4 may depend on L1 types, but never on L2/L3 state.
// Callers decide which tracks are classified and when they are forgotten.
// No SQL/database code is allowed in this package.
package l4activity
