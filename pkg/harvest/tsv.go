package harvest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// MissingPolicy decides what happens to samples that fail to parse
type MissingPolicy string

const (
	MissingInterpolate MissingPolicy = "interpolate"
	MissingReject      MissingPolicy = "reject"
	MissingPropagate   MissingPolicy = "propagate"
)

// ParseMissingPolicy validates a policy name; empty means interpolate
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch p := MissingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MissingInterpolate, nil
	case MissingInterpolate, MissingReject, MissingPropagate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown missing sample policy %q (want interpolate, reject or propagate)", s)
	}
}

// readTable reads a headerless tab-separated table. Blank lines are skipped.
func readTable(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// trimTrailingEmpty drops empty trailing fields left by a trailing separator
func trimTrailingEmpty(row []string, want int) []string {
	for len(row) > want && strings.TrimSpace(row[len(row)-1]) == "" {
		row = row[:len(row)-1]
	}
	return row
}

// readSeries reads a single time series whose samples are separated by tabs
// and/or line breaks. Empty interior fields are kept as missing samples.
func readSeries(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var tokens []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		tokens = append(tokens, trimTrailingEmpty(fields, 0)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// parseSample converts one field; ok is false for anything that is not a finite number
func parseSample(field string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// applyMissingPolicy fills or rejects the NaN entries of values in place and
// returns how many samples were missing.
func applyMissingPolicy(values []float64, policy MissingPolicy) (int, error) {
	missing := 0
	firstBad := -1
	for i, v := range values {
		if math.IsNaN(v) {
			if firstBad < 0 {
				firstBad = i
			}
			missing++
		}
	}
	if missing == 0 {
		return 0, nil
	}

	switch policy {
	case MissingReject:
		return missing, fmt.Errorf("%d missing samples, first at row %d", missing, firstBad+1)
	case MissingPropagate:
		return missing, nil
	default:
		if missing == len(values) {
			return missing, fmt.Errorf("column has no valid samples")
		}
		interpolateGaps(values)
		return missing, nil
	}
}

// interpolateGaps linearly fills interior NaN runs, back-fills a leading run
// and forward-fills a trailing run.
func interpolateGaps(values []float64) {
	prev := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		switch {
		case prev < 0:
			for j := 0; j < i; j++ {
				values[j] = v
			}
		case i-prev > 1:
			step := (v - values[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				values[j] = values[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}
	for j := prev + 1; j < len(values); j++ {
		values[j] = values[prev]
	}
}
