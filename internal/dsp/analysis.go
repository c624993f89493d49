package dsp

const (
	// Plausible vocal range for pitch tracking.
	pitchMinHz = 80.0
	pitchMaxHz = 800.0

	pitchCorrelationMin = 0.3
)

// EstimatePitch returns the fundamental frequency in Hz via normalized
// autocorrelation, or 0 when the frame is unvoiced. The lag search is
// bounded to the vocal range and to half the frame length, so a steady
// in-range tone is detectable even on short frames.
func EstimatePitch(samples []int16, sampleRate int) float64 {
	if len(samples) < 4 || sampleRate <= 0 {
		return 0
	}

	work := make([]float64, len(samples))
	var mean float64
	for i, s := range samples {
		work[i] = float64(s)
		mean += work[i]
	}
	mean /= float64(len(work))
	var energy float64
	for i := range work {
		work[i] -= mean
		energy += work[i] * work[i]
	}
	if energy == 0 {
		return 0
	}

	minLag := int(float64(sampleRate) / pitchMaxHz)
	if minLag < 1 {
		minLag = 1
	}
	maxLag := int(float64(sampleRate) / pitchMinHz)
	if maxLag > len(work)/2 {
		maxLag = len(work) / 2
	}
	if maxLag <= minLag {
		return 0
	}

	bestLag := 0
	bestCorr := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(work); i++ {
			corr += work[i] * work[i+lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 || bestCorr < pitchCorrelationMin {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}

// SpectralCentroid returns the energy-weighted mean frequency in Hz.
func SpectralCentroid(samples []int16, sampleRate int) float64 {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0
	}

	n := nextPow2(len(samples))
	buf := make([]complex128, n)
	for i, s := range samples {
		buf[i] = complex(float64(s), 0)
	}
	fft(buf, false)

	binWidth := float64(sampleRate) / float64(n)
	var weighted, total float64
	for i := 1; i <= n/2; i++ {
		mag := cmplxAbs(buf[i])
		weighted += float64(i) * binWidth * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// ZeroCrossingRate is the fraction of adjacent sample pairs that change
// sign, in [0, 1].
func ZeroCrossingRate(samples []int16) float64 {
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

// DBFS converts an int16-scale RMS amplitude to dB relative to full
// scale; silence maps to -Inf.
func DBFS(rms float64) float64 {
	return dbfs(rms)
}
