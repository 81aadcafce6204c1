package risk

import (
	"fmt"
	"strings"

	"github.com/modelminds/gradeboard/internal/dataset"
)

// AtRiskCutoff is the fixed predicted-score cutoff for student alerts.
// Strictly less than: exactly 70 is not at risk.
const AtRiskCutoff = 70

// Threshold is a minimum acceptable value for one feature.
type Threshold struct {
	Feature string
	Minimum float64
}

// Thresholds is the fixed evaluation table, iterated in this declared
// order. Process-wide constant, never mutated.
var Thresholds = []Threshold{
	{"Midterm_Score", 65},
	{"Assignments_Avg", 70},
	{"Quizzes_Avg", 70},
	{"Project_Score", 70},
	{"Study_Hours_per_Week", 10},
	{"Sleep_Hours", 6},
	{"Attendance", 75},
}

// AggregateThresholds are the round cutoffs a teacher may choose for the
// class-wide report.
var AggregateThresholds = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// Assessment is the result of evaluating one predicted score.
type Assessment struct {
	AtRisk bool `json:"at_risk"`

	// Reasons lists each feature strictly below its threshold, in table
	// order. May be empty while AtRisk is true, meaning the low score is
	// not attributable to any tracked feature; the caller must surface
	// that instead of silently dropping the alert.
	Reasons []string `json:"reasons"`
}

// Evaluate compares a predicted score and its contributing features
// against the fixed threshold table.
func Evaluate(predictedScore float64, rec dataset.StudentRecord) Assessment {
	if predictedScore >= AtRiskCutoff {
		return Assessment{AtRisk: false}
	}

	var reasons []string
	for _, t := range Thresholds {
		value, ok := rec.FeatureByName(t.Feature)
		if !ok {
			continue
		}
		if value < t.Minimum {
			reasons = append(reasons, fmt.Sprintf("%s is %g, which is below the threshold of %g",
				displayName(t.Feature), value, t.Minimum))
		}
	}

	return Assessment{AtRisk: true, Reasons: reasons}
}

// ValidAggregateThreshold reports whether a teacher-chosen cutoff is one
// of the allowed round values.
func ValidAggregateThreshold(threshold int) bool {
	for _, t := range AggregateThresholds {
		if t == threshold {
			return true
		}
	}
	return false
}

func displayName(feature string) string {
	return strings.ReplaceAll(feature, "_", " ")
}
