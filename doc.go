// Package sr defines the core domain types, port interfaces, and helpers used across
// the SOLVER-Ralph codebase. It provides identifiers, actors, typed references, the
// event envelope, state machines, and shared error codes. Concrete backends live in
// subpackages such as postgres (event store & projections), minio (evidence store),
// natsbus (message bus), rediscache (cache), and rest_api (HTTP surface).
//
// The append-only event log is the sole source of truth for governance-relevant
// state. Projections are read models rebuildable from the log alone.
package sr
