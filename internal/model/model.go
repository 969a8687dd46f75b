// Package model implements the frozen classifier ensemble.
//
// The ensemble is loaded once at process start from JSON parameter dumps
// (one fitted scaler plus one file per classifier) and is immutable from
// then on. Scoring is a pure function of the loaded parameters and the
// input record, so the ensemble is shared across every session and request
// without synchronization.
package model

import (
	"errors"
	"fmt"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// Member identifiers, matching the artifact file names.
const (
	MemberLogistic     = "logistic"
	MemberRandomForest = "random_forest"
	MemberXGBoost      = "xgboost"
)

// Verdict maps each ensemble member to its binary label (1 = fraud).
type Verdict map[string]int

// ErrDimensionMismatch indicates artifacts trained on a different schema.
var ErrDimensionMismatch = errors.New("artifact dimensions do not match transaction schema")

// Classifier is one trained binary classifier operating on scaled features.
type Classifier interface {
	// Predict returns the binary label for one scaled feature vector.
	Predict(scaled []float64) int
}

type member struct {
	id  string
	clf Classifier
}

// Ensemble is the fitted scaler plus the ordered set of classifiers.
type Ensemble struct {
	scaler  *Scaler
	members []member
}

// NewEnsemble builds an ensemble from a scaler and named classifiers.
// Member order is preserved; ids must be unique.
func NewEnsemble(scaler *Scaler, classifiers map[string]Classifier, order []string) (*Ensemble, error) {
	if scaler == nil {
		return nil, errors.New("scaler is required")
	}
	if len(order) == 0 {
		return nil, errors.New("ensemble needs at least one classifier")
	}
	e := &Ensemble{scaler: scaler}
	for _, id := range order {
		clf, ok := classifiers[id]
		if !ok {
			return nil, fmt.Errorf("classifier %q missing", id)
		}
		e.members = append(e.members, member{id: id, clf: clf})
	}
	return e, nil
}

// Members returns the ensemble member ids in order.
func (e *Ensemble) Members() []string {
	ids := make([]string, len(e.members))
	for i, m := range e.members {
		ids[i] = m.id
	}
	return ids
}

// Score scales the record once and runs every classifier on the same
// scaled vector, so members never see skewed inputs. The returned Verdict
// has exactly one entry per member.
func (e *Ensemble) Score(tx transaction.Transaction) (Verdict, error) {
	scaled, err := e.scaler.Transform(tx.Values())
	if err != nil {
		return nil, fmt.Errorf("scale transaction: %w", err)
	}

	verdict := make(Verdict, len(e.members))
	for _, m := range e.members {
		verdict[m.id] = m.clf.Predict(scaled)
	}
	return verdict, nil
}
