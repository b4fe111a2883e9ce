package types

import (
	"encoding/json"
	"fmt"
	"math"
)

// infToken is the JSON encoding of an infinite z-score.
const infToken = "inf"

// ZScore is a deviation score that is either a finite magnitude or infinite.
// Infinite means the baseline had zero variance and the current value differs
// from it; such a deviation must never compare below any finite threshold.
type ZScore struct {
	value    float64
	infinite bool
}

// Finite returns a finite z-score of v.
func Finite(v float64) ZScore { return ZScore{value: v} }

// Infinite returns the infinite z-score.
func Infinite() ZScore { return ZScore{infinite: true} }

// IsInf reports whether z is infinite.
func (z ZScore) IsInf() bool { return z.infinite }

// Value returns the magnitude, or +Inf for an infinite score.
func (z ZScore) Value() float64 {
	if z.infinite {
		return math.Inf(1)
	}
	return z.value
}

// AtLeast reports whether z >= threshold. An infinite score satisfies every threshold.
func (z ZScore) AtLeast(threshold float64) bool {
	return z.infinite || z.value >= threshold
}

func (z ZScore) String() string {
	if z.infinite {
		return infToken
	}
	return fmt.Sprintf("%.4f", z.value)
}

// MarshalJSON encodes a finite score as a number and an infinite one as "inf".
func (z ZScore) MarshalJSON() ([]byte, error) {
	if z.infinite {
		return json.Marshal(infToken)
	}
	return json.Marshal(z.value)
}

// UnmarshalJSON accepts a number or the string "inf".
func (z *ZScore) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != infToken {
			return fmt.Errorf("zscore: unexpected string %q", s)
		}
		*z = Infinite()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("zscore: %w", err)
	}
	*z = Finite(v)
	return nil
}
