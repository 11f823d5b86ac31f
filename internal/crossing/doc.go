// Package crossing owns the bidirectional line-crossing decision logic.
//
// Responsibilities: the immutable pair of reference boundaries, the
// per-track sticky band-entry state, and the rule that turns one tracked
// observation into at most one directional crossing event.
// Key types: BoundaryConfig, Observation, Engine, Event.
//
// Dependency rule: crossing depends on nothing else in this module.
// Tallying belongs to internal/counts; frame handling, persistence and
// transport belong to the host packages.
package crossing
