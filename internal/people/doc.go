// Package people is the root of the person-occupancy data model.
//
// Layers, leaves first:
//
//	l1detect   per-frame detector input (boxes, confidence, keypoints)
//	l2track    identity association with ghost re-identification
//	l3zones    polygon occupancy state machine and dwell time
//	l4activity keypoint history, activity rules and label smoothing
//	pipeline   per-frame orchestration, flush, and multi-stream runner
//	storage    SQLite persistence of sessions, events and summaries
//
// Dependency rule: layer N may depend on layers below it, never above.
// Only storage/ may contain SQL.
package people
