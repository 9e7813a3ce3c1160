// Package watch reconciles a flat list of externally sourced resources for one
// tenant against their last persisted state.
//
// A run lists the tenant's resources, classifies each one against its stored
// ResourceState, and pushes the resources that need work through a bounded
// pool of workers. Each worker fetches the payload, skips it when the
// checksum is unchanged, hands it to the tenant Action and writes the resulting
// state back. Failing resources are retried on later runs and banned for a
// cooldown once they fail too often in a row.
//
// Run lifecycle:
//
//	Idle → Listing → Classifying → Processing → Persisting → Completed
//	   any phase ──────────────────────────────────────────→ Failed
//
// A duplicate resource id in the listing, a listing or state read failure, or a
// failed state write aborts the run. A tenant whose runs keep failing is
// escalated through Observer.ConsecutiveFailureLimitReached; the escalation
// never stops future runs.
//
// Sources, state stores, actions and observers are plugged in through the
// interfaces in this package; see packages source, state, action and telemetry.
package watch
