// Package l1frames owns Layer 1 (Frames) of the vision data model.
//
// Responsibilities: pulling colour frames from a camera, a replay on disk,
// or a remote simulator sensor, and normalising them to *image.RGBA.
// Key types: Frame, Source, SourceKind.
//
// Dependency rule: L1 depends on nothing above it. Estimation lives in L2+.
package l1frames
