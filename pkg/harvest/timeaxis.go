package harvest

import "fmt"

// TimeAxis is the sample time of every row of a run, in seconds
type TimeAxis struct {
	SamplingRate float64   `json:"sampling_rate"`
	Values       []float64 `json:"-"`
}

// BuildTimeAxis returns n evenly spaced points from 0 to n/fs inclusive.
// n=1 gives [0] and n=0 an empty axis.
func BuildTimeAxis(n int, fs float64) (*TimeAxis, error) {
	if n < 0 {
		return nil, NewError(KindInvalidInput, "", "", fmt.Sprintf("negative sample count %d", n), nil)
	}
	if fs <= 0 {
		return nil, NewError(KindInvalidInput, "", "", fmt.Sprintf("sampling rate must be positive, got %g", fs), nil)
	}

	values := make([]float64, n)
	if n > 1 {
		span := float64(n) / fs
		step := span / float64(n-1)
		for i := range values {
			values[i] = float64(i) * step
		}
		values[n-1] = span
	}
	return &TimeAxis{SamplingRate: fs, Values: values}, nil
}

// Len returns the number of points
func (t *TimeAxis) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Values)
}

// Duration returns the last time value, or 0 for an empty axis
func (t *TimeAxis) Duration() float64 {
	if t.Len() == 0 {
		return 0
	}
	return t.Values[len(t.Values)-1]
}
