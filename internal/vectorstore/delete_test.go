package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunDeleteLadder(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name     string
		outcomes []error // one per strategy, nil = success
		wantRuns []bool  // which strategies should have executed
	}{
		{
			name:     "first strategy succeeds, rest skipped",
			outcomes: []error{nil, errBoom, errBoom},
			wantRuns: []bool{true, false, false},
		},
		{
			name:     "first two fail, third succeeds",
			outcomes: []error{errBoom, errBoom, nil},
			wantRuns: []bool{true, true, true},
		},
		{
			name:     "all strategies fail, still succeeds",
			outcomes: []error{errBoom, errBoom, errBoom},
			wantRuns: []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := make([]bool, len(tt.outcomes))
			strategies := make([]deleteStrategy, len(tt.outcomes))
			for i := range tt.outcomes {
				i := i
				strategies[i] = deleteStrategy{
					name: "strategy",
					run: func(ctx context.Context) error {
						ran[i] = true
						return tt.outcomes[i]
					},
				}
			}

			err := runDeleteLadder(context.Background(), zap.NewNop(), "doc-1", strategies)

			// The ladder never propagates failure.
			require.NoError(t, err)
			assert.Equal(t, tt.wantRuns, ran)
		})
	}
}

func TestDistanceToSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		distance float32
		want     float32
	}{
		{"identical", 0, 1},
		{"half", 0.5, 0.5},
		{"far", 1, 0},
		{"clamped below", 1.5, 0},
		{"clamped above", -0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DistanceToSimilarity(tt.distance), 1e-6)
		})
	}
}
