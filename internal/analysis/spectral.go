package analysis

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	frameSize = 2048
	hopSize   = 1024
	// rolloffFraction is the spectral energy fraction below the reported
	// rolloff frequency.
	rolloffFraction = 0.85
)

// SpectralExtractor computes the full feature set using an FFT. The FFT plan
// is built once and reused for every call; the extractor is not safe for
// concurrent use, which is why the worker pool gives each worker its own
// instance.
type SpectralExtractor struct {
	analysisRate int

	planOnce sync.Once
	plan     *fourier.FFT
	window   []float64
}

// NewSpectralExtractor returns an extractor that downsamples to analysisRate
// before computing features.
func NewSpectralExtractor(analysisRate int) *SpectralExtractor {
	return &SpectralExtractor{analysisRate: analysisRate}
}

// Extract implements Extractor.
func (e *SpectralExtractor) Extract(samples []float64, sampleRate int, meta SourceMeta) (FeatureVector, error) {
	if len(samples) == 0 {
		return FeatureVector{}, fmt.Errorf("empty analysis window for %s", meta.Key)
	}

	pcm, rate := Downsample(samples, sampleRate, e.analysisRate)
	if len(pcm) < frameSize {
		// Too short for framed analysis; the heuristic path handles it.
		return FeatureVector{}, fmt.Errorf("window too short for spectral analysis: %d samples", len(pcm))
	}

	e.planOnce.Do(func() {
		e.plan = fourier.NewFFT(frameSize)
		e.window = hann(frameSize)
	})

	bins := frameSize/2 + 1
	binHz := float64(rate) / float64(frameSize)
	power := make([]float64, bins)
	coeffs := make([]complex128, bins)
	frame := make([]float64, frameSize)

	frames := 0
	var centroidSum, rolloffSum, energySum float64
	for start := 0; start+frameSize <= len(pcm); start += hopSize {
		for i := 0; i < frameSize; i++ {
			frame[i] = pcm[start+i] * e.window[i]
		}
		coeffs = e.plan.Coefficients(coeffs, frame)

		total := 0.0
		for i := 0; i < bins; i++ {
			p := real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
			power[i] = p
			total += p
		}
		if total <= 0 {
			frames++
			continue
		}

		weighted := 0.0
		for i := 0; i < bins; i++ {
			weighted += float64(i) * binHz * power[i]
		}
		centroidSum += weighted / total

		target := total * rolloffFraction
		running := 0.0
		rolloffBin := bins - 1
		for i := 0; i < bins; i++ {
			running += power[i]
			if running >= target {
				rolloffBin = i
				break
			}
		}
		rolloffSum += float64(rolloffBin) * binHz

		energySum += total / float64(frameSize)
		frames++
	}
	if frames == 0 {
		return FeatureVector{}, fmt.Errorf("no complete frames in window")
	}

	rms := rootMeanSquare(pcm)
	zcr := zeroCrossingRate(pcm)
	tempo, confidence := tempoFromZCR(zcr)

	return FeatureVector{
		SchemaVersion: SchemaVersion,
		Variant:       VariantPrimary,
		Values: map[string]float64{
			FeatureEnergy:          energySum / float64(frames),
			FeatureRMS:             rms,
			FeatureCentroid:        centroidSum / float64(frames),
			FeatureRolloff:         rolloffSum / float64(frames),
			FeatureZCR:             zcr,
			FeatureTempoEstimate:   tempo,
			FeatureTempoConfidence: confidence,
			FeatureDurationSec:     float64(len(samples)) / float64(sampleRate),
			FeatureSampleCount:     float64(len(samples)),
			FeatureAnalysisRate:    float64(rate),
		},
	}, nil
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func rootMeanSquare(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate returns sign changes per sample, in [0, 1].
func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// tempoFromZCR maps zero-crossing density onto a BPM-shaped estimate. Not a
// rhythm analysis; the fixed low confidence marks it as a rough proxy.
func tempoFromZCR(zcr float64) (bpm, confidence float64) {
	bpm = 60 + 280*zcr
	if bpm > 200 {
		bpm = 200
	}
	return bpm, 0.3
}
