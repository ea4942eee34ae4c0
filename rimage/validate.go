package rimage

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// DepthVerdict is the usability classification of one depth frame.
type DepthVerdict int

// The depth verdicts.
const (
	DepthUsable DepthVerdict = iota
	DepthEmpty
	DepthDegenerate
)

func (v DepthVerdict) String() string {
	switch v {
	case DepthUsable:
		return "usable"
	case DepthEmpty:
		return "empty"
	case DepthDegenerate:
		return "degenerate"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Reasons attached to a DepthDegenerate verdict.
const (
	ReasonUniform = "uniform"
	ReasonSparse  = "sparse"
)

// ValidationThresholds decide when a frame with some valid depth is still unusable.
type ValidationThresholds struct {
	// MinValidFraction is the smallest fraction of valid pixels for a usable frame.
	MinValidFraction float64
	// MinDistinctValues is the smallest number of distinct valid values for a usable frame.
	MinDistinctValues int
}

// DefaultValidationThresholds returns the thresholds used when none are configured.
func DefaultValidationThresholds() ValidationThresholds {
	return ValidationThresholds{MinValidFraction: 0.01, MinDistinctValues: 2}
}

// DepthReport is the outcome of ClassifyDepth.
type DepthReport struct {
	Verdict        DepthVerdict
	Reason         string
	ValidCount     int
	DistinctCount  int
	ValidFraction  float64
	TotalPixels    int
	FirstValue     float32
	distinctCapped bool
}

// ClassifyDepth decides whether a depth frame can be integrated. A frame whose valid pixels all
// share one value is degenerate even when that value is in range.
func ClassifyDepth(dm *DepthMap, th ValidationThresholds) DepthReport {
	report := DepthReport{TotalPixels: dm.Width() * dm.Height()}

	minDistinct := th.MinDistinctValues
	if minDistinct < 1 {
		minDistinct = 1
	}
	distinct := make(map[float32]struct{}, minDistinct)
	for _, d := range dm.Data() {
		if !IsValidDepth(d) {
			continue
		}
		if report.ValidCount == 0 {
			report.FirstValue = d
		}
		report.ValidCount++
		// counting stops once the threshold is met, which is all the verdict needs.
		if len(distinct) < minDistinct {
			distinct[d] = struct{}{}
		} else {
			report.distinctCapped = true
		}
	}
	report.DistinctCount = len(distinct)
	if report.TotalPixels > 0 {
		report.ValidFraction = float64(report.ValidCount) / float64(report.TotalPixels)
	}

	switch {
	case report.ValidCount == 0:
		report.Verdict = DepthEmpty
	case report.DistinctCount < minDistinct:
		report.Verdict = DepthDegenerate
		report.Reason = ReasonUniform
	case report.ValidFraction < th.MinValidFraction:
		report.Verdict = DepthDegenerate
		report.Reason = ReasonSparse
	default:
		report.Verdict = DepthUsable
	}
	return report
}

// String renders the report for logs.
func (r DepthReport) String() string {
	distinct := fmt.Sprint(r.DistinctCount)
	if r.distinctCapped {
		distinct += "+"
	}
	s := fmt.Sprintf("%s valid=%d/%d (%.2f%%) distinct=%s", r.Verdict, r.ValidCount, r.TotalPixels,
		100*r.ValidFraction, distinct)
	if r.Reason != "" {
		s += " reason=" + r.Reason
	}
	return s
}

// DepthStats summarizes the valid samples of a depth map.
type DepthStats struct {
	Count         int
	InvalidCount  int
	DistinctCount int
	Min           float64
	Max           float64
	Mean          float64
	Median        float64
	P95           float64
	StdDev        float64
}

// ComputeDepthStats returns summary statistics over the valid pixels. All statistics are zero
// when there are no valid pixels.
func ComputeDepthStats(dm *DepthMap) DepthStats {
	var out DepthStats
	values := make(stats.Float64Data, 0, len(dm.Data()))
	distinct := map[float32]struct{}{}
	for _, d := range dm.Data() {
		if !IsValidDepth(d) {
			out.InvalidCount++
			continue
		}
		values = append(values, float64(d))
		distinct[d] = struct{}{}
	}
	out.Count = len(values)
	out.DistinctCount = len(distinct)
	if out.Count == 0 {
		return out
	}
	// the only error these return is for empty input, which is handled above.
	out.Min, _ = stats.Min(values)
	out.Max, _ = stats.Max(values)
	out.Mean, _ = stats.Mean(values)
	out.Median, _ = stats.Median(values)
	out.P95, _ = stats.Percentile(values, 95)
	out.StdDev, _ = stats.StandardDeviation(values)
	if math.IsNaN(out.P95) {
		out.P95 = out.Max
	}
	return out
}

// RawSampleStats counts the raw float32 samples of a buffer before sanitizing, including the
// NaN and infinite values that DecodeDepth discards.
type RawSampleStats struct {
	Count    int
	NaN      int
	PosInf   int
	NegInf   int
	Zero     int
	Negative int
}

// CountRawSamples tallies special values in a raw float32 depth buffer.
func CountRawSamples(values []float32) RawSampleStats {
	out := RawSampleStats{Count: len(values)}
	for _, v := range values {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			out.NaN++
		case math.IsInf(f, 1):
			out.PosInf++
		case math.IsInf(f, -1):
			out.NegInf++
		case f == 0:
			out.Zero++
		case f < 0:
			out.Negative++
		}
	}
	return out
}
