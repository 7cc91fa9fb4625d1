package agent

import (
	"context"
	"fmt"
)

// scriptedCapability replays a fixed sequence of planning decisions.
// It lets loop tests exercise control flow without a live model.
type scriptedCapability struct {
	decisions []*Decision
	planErrs  []error

	synthAnswer string
	synthErr    error

	planCalls  []PlanInput
	synthCalls []SynthesizeInput
}

func (s *scriptedCapability) Plan(ctx context.Context, in PlanInput) (*Decision, error) {
	idx := len(s.planCalls)
	s.planCalls = append(s.planCalls, in)

	if idx < len(s.planErrs) && s.planErrs[idx] != nil {
		return nil, s.planErrs[idx]
	}
	if idx < len(s.decisions) {
		return s.decisions[idx], nil
	}
	return nil, fmt.Errorf("scripted capability exhausted after %d plans", idx)
}

func (s *scriptedCapability) Synthesize(ctx context.Context, in SynthesizeInput) (string, error) {
	s.synthCalls = append(s.synthCalls, in)
	if s.synthErr != nil {
		return "", s.synthErr
	}
	if s.synthAnswer != "" {
		return s.synthAnswer, nil
	}
	return "scripted answer", nil
}
