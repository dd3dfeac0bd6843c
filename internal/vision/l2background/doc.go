// Package l2background owns Layer 2 (Background) of the vision data model.
//
// Responsibilities: the adaptive per-pixel background model, its warm-up
// schedule, and labelling each frame into background, shadow and foreground.
// Key types: Model, Config, FrameMetrics.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2background
