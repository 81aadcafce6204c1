package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/modelminds/gradeboard/internal/dataset"
	apperrors "github.com/modelminds/gradeboard/internal/errors"
)

const (
	// seed fixes the train/test split so that the same input rows always
	// produce identical coefficients.
	seed = 42

	// testFraction of rows is held out for evaluation.
	testFraction = 0.2

	// minRows guards against a degenerate or singular fit.
	minRows = 10
)

// Artifact is the fitted regression: one coefficient per feature in model
// order, plus an intercept. Owned by the session that created it and
// treated as read-only after the fit.
type Artifact struct {
	Coefficients [dataset.FeatureCount]float64 `json:"coefficients"`
	Intercept    float64                       `json:"intercept"`
}

// Stats holds evaluation metrics computed over the held-out rows.
type Stats struct {
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
}

// Fit performs ordinary least squares of final score on the seven numeric
// features. 20% of rows (seeded shuffle) are held out and used only for
// the evaluation stats.
func Fit(records []dataset.StudentRecord) (Artifact, Stats, error) {
	if len(records) < minRows {
		return Artifact{}, Stats{}, apperrors.NewInsufficientDataError(
			"not enough rows to fit the prediction model")
	}

	trainIdx, testIdx := split(len(records))

	x := mat.NewDense(len(trainIdx), dataset.FeatureCount+1, nil)
	y := mat.NewVecDense(len(trainIdx), nil)
	for i, idx := range trainIdx {
		x.Set(i, 0, 1)
		feats := records[idx].Features()
		for j, v := range feats {
			x.Set(i, j+1, v)
		}
		y.SetVec(i, records[idx].FinalScore)
	}

	var qr mat.QR
	qr.Factorize(x)

	beta := mat.NewVecDense(dataset.FeatureCount+1, nil)
	if err := qr.SolveVecTo(beta, false, y); err != nil {
		return Artifact{}, Stats{}, apperrors.NewInsufficientDataError(
			"dataset produces a singular fit")
	}

	artifact := Artifact{Intercept: beta.AtVec(0)}
	for j := 0; j < dataset.FeatureCount; j++ {
		artifact.Coefficients[j] = beta.AtVec(j + 1)
	}

	return artifact, evaluate(artifact, records, testIdx), nil
}

// Predict applies the fitted linear combination to the given features.
// Pure function; the result is not clamped and may fall outside [0,100].
func Predict(artifact Artifact, features [dataset.FeatureCount]float64) float64 {
	score := artifact.Intercept
	for i, c := range artifact.Coefficients {
		score += c * features[i]
	}
	return score
}

// split shuffles row indices with the fixed seed and reserves the leading
// fraction as the held-out set.
func split(n int) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)

	testN := int(math.Ceil(float64(n) * testFraction))
	return perm[testN:], perm[:testN]
}

func evaluate(artifact Artifact, records []dataset.StudentRecord, testIdx []int) Stats {
	estimates := make([]float64, len(testIdx))
	observed := make([]float64, len(testIdx))

	var sumSq float64
	for i, idx := range testIdx {
		estimates[i] = Predict(artifact, records[idx].Features())
		observed[i] = records[idx].FinalScore
		diff := estimates[i] - observed[i]
		sumSq += diff * diff
	}

	return Stats{
		R2:   stat.RSquaredFrom(estimates, observed, nil),
		RMSE: math.Sqrt(sumSq / float64(len(testIdx))),
	}
}

// HeldOut returns the records reserved for evaluation by the seeded split,
// in split order. The teacher report ranks these rows by their predicted
// score.
func HeldOut(records []dataset.StudentRecord) []dataset.StudentRecord {
	if len(records) == 0 {
		return nil
	}
	_, testIdx := split(len(records))

	out := make([]dataset.StudentRecord, len(testIdx))
	for i, idx := range testIdx {
		out[i] = records[idx]
	}
	return out
}
