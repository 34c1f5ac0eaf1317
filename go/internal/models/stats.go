package models

import (
	"strconv"
)

// RoundStats summarises the estimates of the current round.
type RoundStats struct {
	// Average is the mean of numeric estimates, nil when there are none.
	Average      *float64       `json:"average,omitempty"`
	AverageText  string         `json:"average_text,omitempty"`
	Distribution map[string]int `json:"distribution"`
	Voted        int            `json:"voted"`
	Eligible     int            `json:"eligible"`
	Consensus    bool           `json:"consensus"`
}

// ComputeRoundStats aggregates the estimates of active participants. Inactive
// seats are excluded entirely; non-numeric tokens count towards the
// distribution but not the average.
func ComputeRoundStats(participants []Participant) RoundStats {
	stats := RoundStats{Distribution: make(map[string]int)}

	var sum float64
	var numeric int
	for _, p := range participants {
		if !p.Active {
			continue
		}
		stats.Eligible++
		if !p.Estimation.IsSet() {
			continue
		}
		stats.Voted++
		stats.Distribution[p.Estimation.String()]++
		if v, ok := p.Estimation.Float(); ok {
			sum += v
			numeric++
		}
	}

	if numeric > 0 {
		avg := sum / float64(numeric)
		stats.Average = &avg
		stats.AverageText = FormatAverage(avg)
	}
	stats.Consensus = stats.Voted > 1 && len(stats.Distribution) == 1
	return stats
}

// FormatAverage renders an average with two decimal places.
func FormatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 2, 64)
}
