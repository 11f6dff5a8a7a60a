// Package pulse holds the domain-agnostic pieces of the ticketpulse job system.
// The queue and worker pool live in pulse/async.
package pulse

// ProgressEmitter receives progress updates from long-running work.
// This interface lives in the infrastructure layer and must not grow domain-specific
// methods; the enhancement pipeline reports its state machine transitions as stages.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitError announces a (possibly recovered) error during a stage
	EmitError(stage string, err error)

	// EmitInfo emits a general informational message
	EmitInfo(message string)
}

// JobBroadcaster is implemented by transports that push job updates to clients.
// The job parameter is an *async.Job; it is interface{} to avoid an import cycle.
type JobBroadcaster interface {
	BroadcastJobUpdate(job interface{})
}
