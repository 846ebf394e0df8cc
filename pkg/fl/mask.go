package fl

import (
	"math"
	"slices"
)

// MaskByOrder keeps the k largest-magnitude entries of u and zeroes the rest.
// The cut is made at the k-th largest magnitude t and every entry with
// |v| >= t survives, so ties at the boundary can leave more than k nonzero
// entries. k <= 0 yields the all-zero update; k >= NumParams keeps u intact.
// The input is not modified.
func MaskByOrder(u GradientUpdate, k int) GradientUpdate {
	if k <= 0 {
		return ZeroUpdate(u)
	}

	return MaskByMagnitude(u, KthLargestMagnitude(u, k))
}

// MaskByMagnitude zeroes every entry with |v| < threshold.
func MaskByMagnitude(u GradientUpdate, threshold float64) GradientUpdate {
	masked := u.Clone()
	for _, t := range masked {
		for i, v := range t.Data {
			if math.Abs(v) < threshold {
				t.Data[i] = 0
			}
		}
	}

	return masked
}

// FilterSelfContribution bounds how much of its own update a worker exposes:
// the top floor(theta * NumParams) entries by magnitude.
func FilterSelfContribution(u GradientUpdate, theta float64) GradientUpdate {
	return MaskByOrder(u, int(math.Floor(theta*float64(u.NumParams()))))
}

// KthLargestMagnitude returns the k-th largest |v| over all entries of u.
// k is clamped into [1, NumParams]; an empty update yields +Inf.
func KthLargestMagnitude(u GradientUpdate, k int) float64 {
	mags := make([]float64, 0, u.NumParams())
	for _, t := range u {
		for _, v := range t.Data {
			mags = append(mags, math.Abs(v))
		}
	}
	if len(mags) == 0 {
		return math.Inf(1)
	}
	k = min(max(k, 1), len(mags))

	slices.Sort(mags)

	return mags[len(mags)-k]
}
