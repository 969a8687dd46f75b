package scoring

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fraudsight/fraudsight/internal/model"
	"github.com/fraudsight/fraudsight/internal/transaction"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fixedEngine returns the same verdict for every transaction.
type fixedEngine struct {
	verdict model.Verdict
	err     error
}

func (e *fixedEngine) Score(tx transaction.Transaction) (model.Verdict, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.verdict, nil
}

func (e *fixedEngine) Members() []string {
	out := make([]string, 0, len(e.verdict))
	for id := range e.verdict {
		out = append(out, id)
	}
	return out
}

func newTestRouter(engine Engine, store Store) *gin.Engine {
	svc := NewService(engine, store, slog.Default())
	h := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	return r
}

func validBody() string {
	values := make([]string, transaction.FieldCount)
	for i := range values {
		values[i] = "1.5"
	}
	return `{"transaction": [` + strings.Join(values, ",") + `]}`
}

func postScore(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/score", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestScoreTransaction_Success(t *testing.T) {
	engine := &fixedEngine{verdict: model.Verdict{
		model.MemberLogistic:     0,
		model.MemberRandomForest: 1,
		model.MemberXGBoost:      0,
	}}
	r := newTestRouter(engine, nil)

	w := postScore(r, validBody())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Prediction map[string]int `json:"prediction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Prediction) != 3 {
		t.Errorf("got %d members, want 3: %v", len(resp.Prediction), resp.Prediction)
	}
	if resp.Prediction[model.MemberRandomForest] != 1 {
		t.Errorf("random_forest label = %d, want 1", resp.Prediction[model.MemberRandomForest])
	}
}

func TestScoreTransaction_MissingKey(t *testing.T) {
	r := newTestRouter(&fixedEngine{verdict: model.Verdict{}}, nil)

	for _, body := range []string{`{}`, ``, `{"other": 1}`} {
		w := postScore(r, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
			continue
		}
		var resp map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse response: %v", err)
		}
		if resp["error"] != "Transaction data is missing" {
			t.Errorf("body %q: error = %q", body, resp["error"])
		}
	}
}

func TestScoreTransaction_MalformedValues(t *testing.T) {
	r := newTestRouter(&fixedEngine{verdict: model.Verdict{}}, nil)

	w := postScore(r, `{"transaction": {"not": "an array"}}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", w.Code, w.Body.String())
	}
}

func TestScoreTransaction_WrongLength(t *testing.T) {
	r := newTestRouter(&fixedEngine{verdict: model.Verdict{}}, nil)

	// 3 values instead of 30: framing failure surfaces as 500 with the
	// framing error text.
	w := postScore(r, `{"transaction": [1, 2, 3]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["error"] != transaction.ErrBadShape.Error() {
		t.Errorf("error = %q, want framing error", resp["error"])
	}
}

func TestScoreTransaction_EngineFailure(t *testing.T) {
	r := newTestRouter(&fixedEngine{err: errors.New("scaler dimension mismatch")}, nil)

	w := postScore(r, validBody())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["error"] != "scaler dimension mismatch" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestScoreTransaction_AuditsToStore(t *testing.T) {
	store := NewMemoryStore()
	engine := &fixedEngine{verdict: model.Verdict{model.MemberLogistic: 1}}
	r := newTestRouter(engine, store)

	w := postScore(r, validBody())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	// Auditing is asynchronous; give it a moment.
	deadline := time.Now().Add(time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d records, want 1", store.Len())
	}

	recent, err := store.ListRecent(t.Context(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if recent[0].Source != SourceAPI {
		t.Errorf("source = %s, want api", recent[0].Source)
	}
	if !strings.HasPrefix(recent[0].ID, "score_") {
		t.Errorf("id = %q, want score_ prefix", recent[0].ID)
	}
}

func TestRecentScores(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 4; i++ {
		_ = store.Record(t.Context(), &ScoredTransaction{
			ID:          "score_x",
			Source:      SourceStream,
			Predictions: model.Verdict{model.MemberLogistic: 0},
			ScoredAt:    time.Now(),
		})
	}
	r := newTestRouter(&fixedEngine{verdict: model.Verdict{}}, store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/scores/recent?limit=2", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Count  int               `json:"count"`
		Scores []json.RawMessage `json:"scores"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Count != 2 || len(resp.Scores) != 2 {
		t.Errorf("count = %d, scores = %d, want 2", resp.Count, len(resp.Scores))
	}
}

func TestModels(t *testing.T) {
	engine := &fixedEngine{verdict: model.Verdict{model.MemberLogistic: 0}}
	r := newTestRouter(engine, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/models", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0] != model.MemberLogistic {
		t.Errorf("models = %v", resp.Models)
	}
}
