// Package l1detect owns Layer 1 (Detections) of the occupancy data model.
//
// Responsibilities: the detector input contract (bounding box, confidence,
// COCO-17 keypoints, optional upstream tracker hint), planar geometry on
// boxes, upstream confidence filtering and the JSONL replay source.
// Key types: RawDetection, Frame, BBox, Keypoint, Source.
//
// Dependency rule: L1 depends on nothing else in internal/people.
package l1detect
