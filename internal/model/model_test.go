package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// stump returns a one-split tree: feature 0 <= threshold → lo, else hi.
func stump(threshold, lo, hi float64) Tree {
	return Tree{Nodes: []Node{
		{Feature: 0, Threshold: threshold, Left: 1, Right: 2},
		{Feature: leafMarker, Value: lo},
		{Feature: leafMarker, Value: hi},
	}}
}

func identityScaler(t *testing.T, dim int) *Scaler {
	t.Helper()
	mean := make([]float64, dim)
	scale := make([]float64, dim)
	for i := range scale {
		scale[i] = 1
	}
	s, err := NewScaler(mean, scale)
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}
	return s
}

func testEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	dim := transaction.FieldCount

	coef := make([]float64, dim)
	coef[0] = 1 // fraud iff scaled Time > 0
	logistic, err := NewLogistic(coef, 0, dim)
	if err != nil {
		t.Fatalf("NewLogistic: %v", err)
	}

	forest, err := NewForest([]Tree{stump(0, 0.1, 0.9), stump(0, 0.2, 0.8)}, dim)
	if err != nil {
		t.Fatalf("NewForest: %v", err)
	}

	boosted, err := NewBoosted([]Tree{stump(0, -2, 2)}, 0.5, dim)
	if err != nil {
		t.Fatalf("NewBoosted: %v", err)
	}

	e, err := NewEnsemble(identityScaler(t, dim), map[string]Classifier{
		MemberLogistic:     logistic,
		MemberRandomForest: forest,
		MemberXGBoost:      boosted,
	}, []string{MemberLogistic, MemberRandomForest, MemberXGBoost})
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	return e
}

func txWithTime(v float64) transaction.Transaction {
	var tx transaction.Transaction
	tx[0] = v
	return tx
}

func TestScore_OneLabelPerMember(t *testing.T) {
	e := testEnsemble(t)

	verdict, err := e.Score(txWithTime(3))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(verdict) != len(e.Members()) {
		t.Fatalf("expected %d labels, got %d", len(e.Members()), len(verdict))
	}
	for _, id := range e.Members() {
		label, ok := verdict[id]
		if !ok {
			t.Errorf("missing label for %s", id)
		}
		if label != 0 && label != 1 {
			t.Errorf("label for %s is %d, want 0 or 1", id, label)
		}
	}
}

func TestScore_AllMembersAgreeOnSeparablePoint(t *testing.T) {
	e := testEnsemble(t)

	fraud, err := e.Score(txWithTime(5))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for id, label := range fraud {
		if label != 1 {
			t.Errorf("%s labeled %d for obvious positive", id, label)
		}
	}

	clean, err := e.Score(txWithTime(-5))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for id, label := range clean {
		if label != 0 {
			t.Errorf("%s labeled %d for obvious negative", id, label)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	e := testEnsemble(t)
	tx := txWithTime(0.7)

	first, err := e.Score(tx)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := e.Score(tx)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("verdict changed between identical calls: %v vs %v", first, again)
		}
	}
}

func TestScaler_NullMarkerImputesToMean(t *testing.T) {
	mean := []float64{10, 20}
	scale := []float64{2, 4}
	s, err := NewScaler(mean, scale)
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}

	out, err := s.Transform([]float64{12, nan()})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out[0] != 1 {
		t.Errorf("expected 1, got %f", out[0])
	}
	if out[1] != 0 {
		t.Errorf("null marker should standardize to 0, got %f", out[1])
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestTreeValidate_RejectsBrokenTrees(t *testing.T) {
	bad := Tree{Nodes: []Node{
		{Feature: 99, Threshold: 0, Left: 1, Right: 1},
		{Feature: leafMarker, Value: 0.5},
	}}
	if err := bad.validate(30); err == nil {
		t.Error("expected feature-out-of-range error")
	}

	cycle := Tree{Nodes: []Node{
		{Feature: 0, Threshold: 0, Left: 0, Right: 0},
	}}
	if err := cycle.validate(30); err == nil {
		t.Error("expected no-forward-edge error")
	}
}

func writeArtifact(t *testing.T, dir, name string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeValidArtifacts(t *testing.T, dir string) {
	t.Helper()
	dim := transaction.FieldCount
	mean := make([]float64, dim)
	scale := make([]float64, dim)
	coef := make([]float64, dim)
	for i := range scale {
		scale[i] = 1
	}
	coef[0] = 1

	writeArtifact(t, dir, ScalerFile, scalerArtifact{Mean: mean, Scale: scale})
	writeArtifact(t, dir, LogisticFile, logisticArtifact{Coefficients: coef, Intercept: -0.5})
	writeArtifact(t, dir, ForestFile, forestArtifact{Trees: []Tree{stump(0, 0.1, 0.9)}})
	writeArtifact(t, dir, XGBoostFile, boostedArtifact{Trees: []Tree{stump(0, -1, 1)}, BaseScore: 0.5})
}

func TestLoad_ValidArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeValidArtifacts(t, dir)

	e, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{MemberLogistic, MemberRandomForest, MemberXGBoost}
	if !reflect.DeepEqual(e.Members(), want) {
		t.Errorf("members = %v, want %v", e.Members(), want)
	}

	if _, err := e.Score(txWithTime(1)); err != nil {
		t.Errorf("Score after Load: %v", err)
	}
}

func TestLoad_FailsFast(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing classifier file", func(t *testing.T) {
		dir := t.TempDir()
		writeValidArtifacts(t, dir)
		if err := os.Remove(filepath.Join(dir, XGBoostFile)); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(dir); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("wrong scaler dimensions", func(t *testing.T) {
		dir := t.TempDir()
		writeValidArtifacts(t, dir)
		writeArtifact(t, dir, ScalerFile, scalerArtifact{Mean: []float64{0}, Scale: []float64{1}})
		if _, err := Load(dir); err == nil {
			t.Error("expected dimension error")
		}
	})

	t.Run("corrupt json", func(t *testing.T) {
		dir := t.TempDir()
		writeValidArtifacts(t, dir)
		if err := os.WriteFile(filepath.Join(dir, LogisticFile), []byte("{"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(dir); err == nil {
			t.Error("expected decode error")
		}
	})
}
