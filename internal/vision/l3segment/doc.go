// Package l3segment owns Layer 3 (Segmentation) of the vision data model.
//
// Responsibilities: turning a background label map into a clean binary
// mask (threshold, hole filling) and extracting external connected
// components as blobs.
// Key types: Config, Segmenter, Blob, Result.
//
// Dependency rule: L3 may depend on L1 and L2, but never on L4+.
package l3segment
