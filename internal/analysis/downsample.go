package analysis

// Downsample decimates PCM to roughly the target rate with a box filter.
// Chiptune content has little useful bandwidth above a few kHz, so analysis
// at a reduced rate costs nothing measurable in accuracy and cuts extraction
// time roughly in proportion to the decimation factor.
//
// The returned rate is the exact achieved rate (fromRate divided by an
// integer factor), which may differ slightly from the requested target.
func Downsample(samples []float64, fromRate, toRate int) ([]float64, int) {
	if toRate <= 0 || fromRate <= toRate {
		return samples, fromRate
	}
	factor := fromRate / toRate
	if factor < 2 {
		return samples, fromRate
	}
	newRate := fromRate / factor
	out := make([]float64, len(samples)/factor)
	for i := range out {
		sum := 0.0
		base := i * factor
		for j := 0; j < factor; j++ {
			sum += samples[base+j]
		}
		out[i] = sum / float64(factor)
	}
	return out, newRate
}
