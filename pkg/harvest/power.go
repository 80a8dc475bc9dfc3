package harvest

import (
	"fmt"
	"math"
)

// RMSPower converts a peak voltage to RMS power in a resistive load, assuming
// a sinusoidal steady state: (v/√2)²/R.
func RMSPower(v, loadResistance float64) float64 {
	rms := v / math.Sqrt2
	return rms * rms / loadResistance
}

// PowerReducer derives power columns from the voltage columns of a table
type PowerReducer struct {
	naming ColumnNaming
}

// NewPowerReducer creates a reducer. A nil naming uses DefaultNaming.
func NewPowerReducer(naming ColumnNaming) *PowerReducer {
	if naming == nil {
		naming = DefaultNaming{}
	}
	return &PowerReducer{naming: naming}
}

// Reduce adds one power column per voltage column, always recomputed from the
// voltage samples, so calling it again replaces rather than compounds.
func (r *PowerReducer) Reduce(table *ChannelTable, loadResistance float64) error {
	if table == nil {
		return NewError(KindInvalidInput, "", "", "nil channel table", nil)
	}
	if loadResistance <= 0 || math.IsNaN(loadResistance) || math.IsInf(loadResistance, 0) {
		return NewError(KindInvalidInput, "", table.Role,
			fmt.Sprintf("load resistance must be a positive finite value, got %g", loadResistance), nil)
	}

	for _, label := range table.Labels {
		voltageName, ok := table.voltage[label]
		if !ok {
			return NewError(KindIncompleteRun, "", table.Role,
				fmt.Sprintf("no voltage column for repetition %s", label), nil)
		}
		voltage := table.columns[voltageName].Values

		power := make([]float64, len(voltage))
		for i, v := range voltage {
			power[i] = RMSPower(v, loadResistance)
		}
		table.setPower(r.naming.PowerColumn(voltageName, label), label, power)
	}
	return nil
}
