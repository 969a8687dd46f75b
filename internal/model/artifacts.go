package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// Artifact file names inside the model directory. The files are JSON
// parameter dumps exported from the offline training run; the training
// procedure itself is out of scope here.
const (
	ScalerFile   = "scaler.json"
	LogisticFile = "logistic_model.json"
	ForestFile   = "rf_model.json"
	XGBoostFile  = "xgb_model.json"
)

type scalerArtifact struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type logisticArtifact struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

type forestArtifact struct {
	Trees []Tree `json:"trees"`
}

type boostedArtifact struct {
	Trees     []Tree  `json:"trees"`
	BaseScore float64 `json:"base_score"`
}

// Load reads the frozen artifact set from dir and constructs the ensemble.
// Any I/O or decode failure is fatal to the caller: a process with a broken
// model set must not accept sessions or requests.
func Load(dir string) (*Ensemble, error) {
	dim := transaction.FieldCount

	var sa scalerArtifact
	if err := readArtifact(dir, ScalerFile, &sa); err != nil {
		return nil, err
	}
	if len(sa.Mean) != dim {
		return nil, fmt.Errorf("%w: scaler fitted on %d columns, schema has %d", ErrDimensionMismatch, len(sa.Mean), dim)
	}
	scaler, err := NewScaler(sa.Mean, sa.Scale)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ScalerFile, err)
	}

	var la logisticArtifact
	if err := readArtifact(dir, LogisticFile, &la); err != nil {
		return nil, err
	}
	logistic, err := NewLogistic(la.Coefficients, la.Intercept, dim)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", LogisticFile, err)
	}

	var fa forestArtifact
	if err := readArtifact(dir, ForestFile, &fa); err != nil {
		return nil, err
	}
	forest, err := NewForest(fa.Trees, dim)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ForestFile, err)
	}

	var ba boostedArtifact
	if err := readArtifact(dir, XGBoostFile, &ba); err != nil {
		return nil, err
	}
	boosted, err := NewBoosted(ba.Trees, ba.BaseScore, dim)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", XGBoostFile, err)
	}

	return NewEnsemble(scaler, map[string]Classifier{
		MemberLogistic:     logistic,
		MemberRandomForest: forest,
		MemberXGBoost:      boosted,
	}, []string{MemberLogistic, MemberRandomForest, MemberXGBoost})
}

func readArtifact(dir, name string, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- path from operator config, not user input
	if err != nil {
		return fmt.Errorf("read model artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode model artifact %s: %w", name, err)
	}
	return nil
}
