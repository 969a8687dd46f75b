package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// decisionThreshold converts a fraud probability into a binary label.
const decisionThreshold = 0.5

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// Logistic is a fitted logistic-regression classifier.
type Logistic struct {
	coef      []float64
	intercept float64
}

// NewLogistic builds a logistic classifier from fitted parameters.
func NewLogistic(coef []float64, intercept float64, dim int) (*Logistic, error) {
	if len(coef) != dim {
		return nil, fmt.Errorf("%w: logistic has %d coefficients, schema has %d", ErrDimensionMismatch, len(coef), dim)
	}
	return &Logistic{coef: coef, intercept: intercept}, nil
}

// Predict returns 1 when the fraud probability crosses the threshold.
func (l *Logistic) Predict(scaled []float64) int {
	p := sigmoid(floats.Dot(l.coef, scaled) + l.intercept)
	if p >= decisionThreshold {
		return 1
	}
	return 0
}

// Forest is a fitted random-forest classifier. Each tree's leaf carries a
// fraud probability; the forest averages them, matching the soft-voting
// behavior the ensemble was trained with.
type Forest struct {
	trees []Tree
}

// NewForest builds a forest classifier from fitted trees.
func NewForest(trees []Tree, dim int) (*Forest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("forest has no trees")
	}
	for i := range trees {
		if err := trees[i].validate(dim); err != nil {
			return nil, fmt.Errorf("forest tree %d: %w", i, err)
		}
	}
	return &Forest{trees: trees}, nil
}

func (f *Forest) Predict(scaled []float64) int {
	probs := make([]float64, len(f.trees))
	for i := range f.trees {
		probs[i] = f.trees[i].Eval(scaled)
	}
	if floats.Sum(probs)/float64(len(probs)) >= decisionThreshold {
		return 1
	}
	return 0
}

// Boosted is a fitted gradient-boosted classifier. Leaves carry margin
// contributions; the prediction is sigmoid(base margin + sum of leaves).
type Boosted struct {
	trees      []Tree
	baseMargin float64
}

// NewBoosted builds a boosted classifier. baseScore is a probability; it is
// converted to margin space once here.
func NewBoosted(trees []Tree, baseScore float64, dim int) (*Boosted, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("boosted model has no trees")
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("base score %f outside (0, 1)", baseScore)
	}
	for i := range trees {
		if err := trees[i].validate(dim); err != nil {
			return nil, fmt.Errorf("boosted tree %d: %w", i, err)
		}
	}
	return &Boosted{
		trees:      trees,
		baseMargin: math.Log(baseScore / (1 - baseScore)),
	}, nil
}

func (b *Boosted) Predict(scaled []float64) int {
	margin := b.baseMargin
	for i := range b.trees {
		margin += b.trees[i].Eval(scaled)
	}
	if sigmoid(margin) >= decisionThreshold {
		return 1
	}
	return 0
}
