package coordinator

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func analyseFairness(r Report, federatedFinal float64) Fairness {
	return Fairness{
		StandaloneVsFinal:                 correlation(r.StandaloneTestAccs, r.ParticipantTestAccs),
		StandaloneVsDSSGD:                 correlation(r.StandaloneTestAccs, r.DSSGDTestAccs),
		SharingContributionVsFinal:        correlation(r.SharingContributions, r.ParticipantTestAccs),
		SharingContributionVsImprovements: correlation(r.SharingContributions, r.Improvements),
		StandaloneBestWorker:              best(r.StandaloneTestAccs),
		CFFLBestWorker:                    best(r.ParticipantTestAccs),
		DSSGDBestWorker:                   best(r.DSSGDTestAccs),
		DSSGDAverage:                      mean(r.DSSGDTestAccs),
		FederatedFinal:                    federatedFinal,
	}
}

// correlation is the Pearson coefficient of x and y, or 0 when it is
// undefined (fewer than two points or zero variance).
func correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}

	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}

	return c
}

func best(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	return floats.Max(xs)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	return stat.Mean(xs, nil)
}
