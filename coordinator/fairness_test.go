package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc string
		x, y []float64
		want float64
	}{
		{desc: "perfect positive", x: []float64{1, 2, 3}, y: []float64{2, 4, 6}, want: 1},
		{desc: "perfect negative", x: []float64{1, 2, 3}, y: []float64{3, 2, 1}, want: -1},
		{desc: "constant input", x: []float64{1, 1, 1}, y: []float64{1, 2, 3}, want: 0},
		{desc: "single point", x: []float64{1}, y: []float64{2}, want: 0},
		{desc: "length mismatch", x: []float64{1, 2}, y: []float64{1, 2, 3}, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tc.want, correlation(tc.x, tc.y), 1e-9)
		})
	}
}

func TestAnalyseFairness(t *testing.T) {
	t.Parallel()

	r := Report{
		StandaloneTestAccs:   []float64{0.6, 0.7, 0.8},
		ParticipantTestAccs:  []float64{0.7, 0.8, 0.9},
		DSSGDTestAccs:        []float64{0.5, 0.9, 0.7},
		SharingContributions: []float64{10, 20, 30},
		Improvements:         []float64{0.3, 0.2, 0.1},
	}

	f := analyseFairness(r, 0.85)
	assert.InDelta(t, 1, f.StandaloneVsFinal, 1e-9)
	assert.InDelta(t, 1, f.SharingContributionVsFinal, 1e-9)
	assert.InDelta(t, -1, f.SharingContributionVsImprovements, 1e-9)
	assert.InDelta(t, 0.5, f.StandaloneVsDSSGD, 1e-9)
	assert.InDelta(t, 0.8, f.StandaloneBestWorker, 1e-9)
	assert.InDelta(t, 0.9, f.CFFLBestWorker, 1e-9)
	assert.InDelta(t, 0.9, f.DSSGDBestWorker, 1e-9)
	assert.InDelta(t, 0.7, f.DSSGDAverage, 1e-9)
	assert.InDelta(t, 0.85, f.FederatedFinal, 1e-9)
}
