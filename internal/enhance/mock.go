package enhance

import "context"

// mockEnhancer passes audio through untouched. It stands in for a real
// model in development and tests while still exercising the capability
// wiring.
type mockEnhancer struct{}

func NewMockEnhancer() Enhancer {
	return &mockEnhancer{}
}

func (m *mockEnhancer) Ready() bool { return true }

func (m *mockEnhancer) Enhance(_ context.Context, _ int, samples []int16) ([]int16, error) {
	out := make([]int16, len(samples))
	copy(out, samples)
	return out, nil
}
