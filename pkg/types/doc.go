// Package types defines the Depot and table interfaces, the residue and
// request entities, the request status state machine, and the standard
// errors shared by every zeromonos backend.
//
// The transition table in status.go is the only place that decides which
// status changes are legal; backends and the lifecycle engine consult it
// through Next.
package types
