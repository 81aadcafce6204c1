package report

import (
	"sort"

	"github.com/modelminds/gradeboard/internal/dataset"
	"github.com/modelminds/gradeboard/internal/model"
)

// Prediction pairs a student record with its model-predicted final score.
type Prediction struct {
	Record         dataset.StudentRecord `json:"record"`
	PredictedScore float64               `json:"predicted_score"`
}

// Predict runs the artifact over every record, preserving input order.
func Predict(artifact model.Artifact, records []dataset.StudentRecord) []Prediction {
	preds := make([]Prediction, len(records))
	for i, rec := range records {
		preds[i] = Prediction{
			Record:         rec,
			PredictedScore: model.Predict(artifact, rec.Features()),
		}
	}
	return preds
}

// TopN returns the n highest predictions, sorted by predicted score
// descending. Ties keep original row order (stable sort).
func TopN(preds []Prediction, n int) []Prediction {
	ranked := make([]Prediction, len(preds))
	copy(ranked, preds)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PredictedScore > ranked[j].PredictedScore
	})

	if n < 0 {
		n = 0
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// BelowThreshold filters predictions strictly below the threshold,
// preserving input order. A prediction exactly at the threshold is
// excluded.
func BelowThreshold(preds []Prediction, threshold float64) []Prediction {
	var below []Prediction
	for _, p := range preds {
		if p.PredictedScore < threshold {
			below = append(below, p)
		}
	}
	return below
}
