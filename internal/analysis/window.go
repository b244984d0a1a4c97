package analysis

import "math"

// WindowPolicy controls excerpt selection for feature extraction.
type WindowPolicy struct {
	MaxWindowSeconds int
	IntroSkipSeconds int
}

// Window is a deterministic sub-range of rendered audio.
type Window struct {
	StartSample      int     `json:"start_sample"`
	SampleCount      int     `json:"sample_count"`
	StartSec         float64 `json:"start_sec"`
	DurationSec      float64 `json:"duration_sec"`
	TotalDurationSec float64 `json:"total_duration_sec"`
}

// rmsStride keeps candidate loudness sampling cheap; the approximation only
// has to rank candidates against each other.
const rmsStride = 64

const silenceFloor = 1e-4

// rmsTieBreak absorbs float noise between equally loud candidates. A later
// candidate must beat the current best by more than this to displace it, so
// near-equal loudness resolves to the earlier, preferred start.
const rmsTieBreak = 1e-6

// SelectWindow picks a representative excerpt of the rendered audio. The
// choice is a pure function of the samples and policy: identical inputs
// always return the identical window.
//
// Tracks no longer than the window are returned whole. Otherwise candidate
// start offsets are probed (intro-skipped start, +5s, +10s, the latest
// possible start, and the track start) and the loudest wins, ties and
// all-silent tracks resolving to the intro-skipped start.
func SelectWindow(pcm []float64, sampleRate int, policy WindowPolicy) Window {
	total := len(pcm)
	totalSec := float64(total) / float64(sampleRate)

	windowSamples := policy.MaxWindowSeconds * sampleRate
	if windowSamples <= 0 || total <= windowSamples {
		return Window{
			StartSample:      0,
			SampleCount:      total,
			StartSec:         0,
			DurationSec:      totalSec,
			TotalDurationSec: totalSec,
		}
	}

	maxStart := total - windowSamples
	preferred := policy.IntroSkipSeconds * sampleRate
	if preferred > maxStart {
		preferred = maxStart
	}
	if preferred < 0 {
		preferred = 0
	}

	raw := []int{
		preferred,
		preferred + 5*sampleRate,
		preferred + 10*sampleRate,
		maxStart,
		0,
	}
	candidates := make([]int, 0, len(raw))
	seen := make(map[int]struct{}, len(raw))
	for _, start := range raw {
		if start < 0 {
			start = 0
		}
		if start > maxStart {
			start = maxStart
		}
		if _, ok := seen[start]; ok {
			continue
		}
		seen[start] = struct{}{}
		candidates = append(candidates, start)
	}

	best := preferred
	bestRMS := -1.0
	for _, start := range candidates {
		rms := approxRMS(pcm[start : start+windowSamples])
		if rms > bestRMS+rmsTieBreak {
			bestRMS = rms
			best = start
		}
	}
	if bestRMS < silenceFloor {
		// Every candidate is near-silent; the intro-skipped start is the
		// least arbitrary choice.
		best = preferred
	}

	return Window{
		StartSample:      best,
		SampleCount:      windowSamples,
		StartSec:         float64(best) / float64(sampleRate),
		DurationSec:      float64(windowSamples) / float64(sampleRate),
		TotalDurationSec: totalSec,
	}
}

func approxRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	count := 0
	for i := 0; i < len(samples); i += rmsStride {
		sum += samples[i] * samples[i]
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
