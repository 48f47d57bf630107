// Package analyze provides read-only structural and temporal analysis over
// a point-in-time graph snapshot: workflow pattern detection, cycle
// detection, critical-path search, and bottleneck discovery. An Analyzer
// never mutates the graph; the knowledge service rebuilds it from a fresh
// snapshot after every mutation.
package analyze

import "time"

// PatternType classifies a detected workflow shape.
type PatternType string

const (
	PatternSequence PatternType = "sequence"
	PatternParallel PatternType = "parallel"
	PatternChoice   PatternType = "choice"
)

// Temporal summarizes step durations behind a pattern.
type Temporal struct {
	AverageDuration time.Duration `json:"average_duration"`
	// Variability is the coefficient of variation (stddev/mean) of the
	// member step durations.
	Variability float64 `json:"variability"`
}

// Optimization describes the improvement potential of a pattern.
type Optimization struct {
	// PotentialGain is the estimated fraction of pattern time that could
	// be recovered, in [0,1).
	PotentialGain float64 `json:"potential_gain"`
	// Prerequisites lists node ids that must be addressed first.
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// Pattern is a derived structural/temporal motif. Patterns are recomputed
// per analysis call and never persisted.
type Pattern struct {
	Type         PatternType   `json:"type"`
	Description  string        `json:"description"`
	Confidence   float64       `json:"confidence"`
	Impact       float64       `json:"impact"`
	Frequency    int           `json:"frequency"`
	RelatedNodes []string      `json:"related_nodes"`
	Temporal     *Temporal     `json:"temporal,omitempty"`
	Optimization *Optimization `json:"optimization,omitempty"`
}

// Touches reports whether the pattern references the given node.
func (p Pattern) Touches(nodeID string) bool {
	for _, id := range p.RelatedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}
