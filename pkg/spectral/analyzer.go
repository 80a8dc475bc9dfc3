package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/mjibson/go-dsp/fft"
	dspspectral "github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
)

// ErrInvalidInput reports a series that cannot be analyzed (too short, non-finite samples or period)
var ErrInvalidInput = errors.New("invalid spectral input")

// DefaultWelchSegment is the Welch segment length used when none is configured
const DefaultWelchSegment = 256

// Analyzer computes single-sided spectra of sampled series
type Analyzer struct {
	logger logging.Logger
}

// Result holds the amplitude and power spectra of one series
type Result struct {
	SampleRate float64 `json:"sample_rate"`
	Samples    int     `json:"samples"`

	AmplitudeFrequencies []float64    `json:"amplitude_frequencies"`
	Amplitude            []complex128 `json:"-"` // FFT/N, first ⌊N/2⌋ bins
	Magnitude            []float64    `json:"magnitude"`

	PowerFrequencies []float64 `json:"power_frequencies"`
	Power            []float64 `json:"power"` // flat-top periodogram, spectrum scaling
}

// WelchResult is a density-scaled power spectral density estimate
type WelchResult struct {
	SampleRate  float64   `json:"sample_rate"`
	Segment     int       `json:"segment"`
	Frequencies []float64 `json:"frequencies"`
	Density     []float64 `json:"density"`
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(logger logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Analyzer{
		logger: logger.WithFields(logging.Fields{
			"component": "spectral_analyzer",
		}),
	}
}

// Analyze computes the amplitude spectrum and flat-top periodogram of series
// sampled every samplePeriod seconds.
func (a *Analyzer) Analyze(samplePeriod float64, series []float64) (*Result, error) {
	n := len(series)
	if err := checkInput(samplePeriod, series); err != nil {
		return nil, err
	}

	fs := 1 / samplePeriod
	result := &Result{
		SampleRate: fs,
		Samples:    n,
	}
	result.AmplitudeFrequencies, result.Amplitude, result.Magnitude = amplitudeSpectrum(samplePeriod, series)
	result.PowerFrequencies, result.Power = Periodogram(series, fs)

	a.logger.Debug("Spectrum computed", logging.Fields{
		"samples":        n,
		"sample_rate":    fs,
		"amplitude_bins": len(result.Amplitude),
		"power_bins":     len(result.Power),
	})

	return result, nil
}

func amplitudeSpectrum(samplePeriod float64, series []float64) ([]float64, []complex128, []float64) {
	n := len(series)
	bins := n / 2
	spectrum := fft.FFTReal(series)

	freqs := make([]float64, bins)
	amplitude := make([]complex128, bins)
	magnitude := make([]float64, bins)
	scale := complex(1/float64(n), 0)
	for k := 0; k < bins; k++ {
		freqs[k] = float64(k) / (float64(n) * samplePeriod)
		amplitude[k] = spectrum[k] * scale
		magnitude[k] = cmplx.Abs(amplitude[k])
	}
	return freqs, amplitude, magnitude
}

// FlatTop returns a periodic flat-top window of length n
func FlatTop(n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}
	return window.FlatTop(n + 1)[:n]
}

// Periodogram estimates the one-sided power spectrum of x sampled at fs: the
// mean is removed, a periodic flat-top window applied and each bin scaled by
// 1/(Σw)², giving units of x² per bin. Every bin except DC and Nyquist is doubled.
func Periodogram(x []float64, fs float64) ([]float64, []float64) {
	n := len(x)
	if n == 0 {
		return nil, nil
	}

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	w := FlatTop(n)
	sumW := 0.0
	windowed := make([]float64, n)
	for i, v := range x {
		windowed[i] = (v - mean) * w[i]
		sumW += w[i]
	}

	spectrum := fft.FFTReal(windowed)
	bins := n/2 + 1
	scale := 1 / (sumW * sumW)

	freqs := make([]float64, bins)
	power := make([]float64, bins)
	for k := 0; k < bins; k++ {
		freqs[k] = float64(k) * fs / float64(n)
		mag := cmplx.Abs(spectrum[k])
		power[k] = mag * mag * scale
	}

	last := bins
	if n%2 == 0 {
		last = bins - 1
	}
	for k := 1; k < last; k++ {
		power[k] *= 2
	}
	return freqs, power
}

// checkInput rejects series shorter than 2 samples, non-finite samples and a
// non-positive or non-finite period
func checkInput(samplePeriod float64, series []float64) error {
	if n := len(series); n < 2 {
		return fmt.Errorf("spectral analysis needs at least 2 samples, got %d: %w", n, ErrInvalidInput)
	}
	if samplePeriod <= 0 || math.IsNaN(samplePeriod) || math.IsInf(samplePeriod, 0) {
		return fmt.Errorf("sample period must be a positive finite value, got %g: %w", samplePeriod, ErrInvalidInput)
	}
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sample %d is not finite: %w", i, ErrInvalidInput)
		}
	}
	return nil
}

// Welch estimates the power spectral density of series with averaged,
// half-overlapping Hann-windowed segments of the given length.
func (a *Analyzer) Welch(samplePeriod float64, series []float64, segment int) (*WelchResult, error) {
	n := len(series)
	if err := checkInput(samplePeriod, series); err != nil {
		return nil, err
	}
	if segment <= 0 {
		segment = DefaultWelchSegment
	}
	segment = min(segment, n)

	fs := 1 / samplePeriod
	density, freqs := dspspectral.Pwelch(series, fs, &dspspectral.PwelchOptions{
		NFFT:     segment,
		Noverlap: segment / 2,
		Window:   window.Hann,
	})

	a.logger.Debug("Welch density computed", logging.Fields{
		"samples": n,
		"segment": segment,
		"bins":    len(density),
	})

	return &WelchResult{
		SampleRate:  fs,
		Segment:     segment,
		Frequencies: freqs,
		Density:     density,
	}, nil
}

// PeakFrequency returns the frequency of the largest amplitude bin, ignoring DC
func (r *Result) PeakFrequency() float64 {
	if r == nil || len(r.Magnitude) < 2 {
		return 0
	}
	peak := 1
	for k := 2; k < len(r.Magnitude); k++ {
		if r.Magnitude[k] > r.Magnitude[peak] {
			peak = k
		}
	}
	return r.AmplitudeFrequencies[peak]
}

// PeakPower returns the largest power bin, ignoring DC
func (r *Result) PeakPower() (frequency, power float64) {
	if r == nil || len(r.Power) < 2 {
		return 0, 0
	}
	peak := 1
	for k := 2; k < len(r.Power); k++ {
		if r.Power[k] > r.Power[peak] {
			peak = k
		}
	}
	return r.PowerFrequencies[peak], r.Power[peak]
}
