// Package control closes the loop between the vision tracker and the drive.
//
// Responsibilities: the discrete PID controller, control objectives that
// turn a TrackState into a setpoint and a measurement, and the
// calibration/tracking/stop state machine that sequences estimation,
// control and actuation. Explore mode drives random commands while a
// separate task keeps the track fresh.
// Key types: PID, Objective, Loop, Vehicle.
package control
