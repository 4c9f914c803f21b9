// Package chain runs an ordered list of heatmap post-processing steps.
package chain

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type ProcessingStep interface {
	Apply(ctx context.Context, input *mat.Dense, params map[string]interface{}) (*mat.Dense, error)
	Name() string
	ShouldExecute(params map[string]interface{}) bool
}

type ProcessingChain struct {
	steps []ProcessingStep
}

func NewProcessingChain(steps []ProcessingStep) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

// Execute feeds input through every step whose ShouldExecute accepts params.
// The input is never modified; when no step runs a copy is returned.
func (pc *ProcessingChain) Execute(ctx context.Context, input *mat.Dense, params map[string]interface{}) (*mat.Dense, error) {
	current := input

	for _, step := range pc.steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !step.ShouldExecute(params) {
			continue
		}

		result, err := step.Apply(ctx, current, params)
		if err != nil {
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
		current = result
	}

	if current == input {
		return mat.DenseCopyOf(input), nil
	}
	return current, nil
}

func (pc *ProcessingChain) GetStepNames() []string {
	names := make([]string, len(pc.steps))
	for i, step := range pc.steps {
		names[i] = step.Name()
	}
	return names
}
