// Package l4estimate owns Layer 4 (Estimate) of the vision data model.
//
// Responsibilities: turning segmented frames into a single position
// estimate, optionally smoothing it, and deriving orientation from the
// displacement between two consecutive distinct positions.
// Key types: Estimator, TrackState, Tracker, Position.
//
// Dependency rule: L4 may depend on L1-L3, but never on control or actuation.
package l4estimate
