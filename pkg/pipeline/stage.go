// Package pipeline provides the shared media types and stage abstractions
// used by every component of the transcoding pipeline.
package pipeline

import (
	"context"
)

// Stage represents a processing step that turns an input into an output.
// The orchestrator implements Stage[Job, Result] so callers can compose it
// with other steps.
type Stage[In, Out any] interface {
	// Execute runs the stage with the given input and returns the output.
	Execute(ctx context.Context, input In) (Out, error)
}
