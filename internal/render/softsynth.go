package render

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"time"

	"chipscore/internal/services"
)

// SoftSynth is the in-process fallback engine: a three-voice chip synthesizer
// (two pulse voices plus an LFSR noise voice) whose note program is seeded
// from the source bytes. It is always available, fully deterministic, and the
// lowest-fidelity engine; its value is that a classification run can never be
// left without audio.
type SoftSynth struct{}

// NewSoftSynth constructs the in-process engine.
func NewSoftSynth() *SoftSynth { return &SoftSynth{} }

func (s *SoftSynth) Name() string { return "softsynth" }

func (s *SoftSynth) Available(ctx context.Context) bool { return true }

const (
	synthStepSeconds = 0.25
	synthVoices      = 3
)

// pentatonic offsets keep the derived note program from sounding like sirens.
var synthScale = [...]float64{0, 3, 5, 7, 10, 12, 15, 17}

func (s *SoftSynth) Render(ctx context.Context, req Request) (*RenderedAudio, error) {
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "read source", "", err)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrRender, "rendering", "read source", "source file is empty", nil)
	}

	seed := fnv.New64a()
	seed.Write(data)
	fmt.Fprintf(seed, "|%d", req.SubIndex)
	rng := splitmix64(seed.Sum64())

	total := req.MaxSeconds * req.SampleRate
	samples := make([]float64, total)
	stepSamples := int(synthStepSeconds * float64(req.SampleRate))

	type voice struct {
		freq  float64
		duty  float64
		level float64
		phase float64
		lfsr  uint32
		noise bool
	}
	voices := [synthVoices]voice{
		{duty: 0.5, level: 0.30},
		{duty: 0.25, level: 0.22},
		{noise: true, lfsr: 0x7FFFF8, level: 0.08},
	}

	for start := 0; start < total; start += stepSamples {
		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrTimeout, "rendering", "softsynth", "render cancelled", ctx.Err())
		default:
		}

		// New note program step for each voice.
		for v := range voices {
			if voices[v].noise {
				continue
			}
			r := rng()
			octave := 1 << (r % 3)
			note := synthScale[(r>>8)%uint64(len(synthScale))]
			voices[v].freq = 110 * float64(octave) * math.Pow(2, note/12)
			// Occasional rests keep the output from being a wall of sound.
			if (r>>16)%8 == 0 {
				voices[v].freq = 0
			}
		}

		end := start + stepSamples
		if end > total {
			end = total
		}
		for i := start; i < end; i++ {
			mixed := 0.0
			for v := range voices {
				vo := &voices[v]
				if vo.noise {
					// Galois LFSR clocked at a fixed divisor of the sample rate.
					if i%16 == 0 {
						bit := vo.lfsr & 1
						vo.lfsr >>= 1
						if bit == 1 {
							vo.lfsr ^= 0x80200003
						}
					}
					if vo.lfsr&1 == 1 {
						mixed += vo.level
					} else {
						mixed -= vo.level
					}
					continue
				}
				if vo.freq <= 0 {
					continue
				}
				vo.phase += vo.freq / float64(req.SampleRate)
				if vo.phase >= 1 {
					vo.phase -= math.Floor(vo.phase)
				}
				if vo.phase < vo.duty {
					mixed += vo.level
				} else {
					mixed -= vo.level
				}
			}
			samples[i] = mixed
		}
	}

	return &RenderedAudio{
		Samples:    samples,
		SampleRate: req.SampleRate,
		Channels:   1,
		Duration:   time.Duration(req.MaxSeconds) * time.Second,
		Engine:     s.Name(),
		RenderMode: ModeEmulated,
	}, nil
}

// splitmix64 returns a deterministic stream of pseudo-random values from one
// seed. Stdlib rand would also work but ties determinism to its internal
// algorithm; this keeps the byte stream under our control.
func splitmix64(seed uint64) func() uint64 {
	state := seed
	return func() uint64 {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		return z ^ (z >> 31)
	}
}
