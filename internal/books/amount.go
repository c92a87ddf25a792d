package books

import (
	"fmt"
	"math"
)

// MicroScale is the fixed-point scale for cash amounts: 1 USD = 1_000_000 micro.
const MicroScale int64 = 1_000_000

// ToMicro converts a float64 USD amount to micro-USD using banker's rounding.
// Intermediate analytics run in float64; everything that touches the books is
// rounded exactly once, here.
func ToMicro(v float64) int64 {
	return int64(math.RoundToEven(v * float64(MicroScale)))
}

// FromMicro converts micro-USD back to float64 USD.
func FromMicro(v int64) float64 {
	return float64(v) / float64(MicroScale)
}

// FormatMicro renders a micro-USD amount as a decimal string with six places.
// Used by the tabular export so amounts round-trip without float formatting.
func FormatMicro(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/MicroScale, v%MicroScale)
}
