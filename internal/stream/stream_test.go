package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fraudsight/fraudsight/internal/model"
	"github.com/fraudsight/fraudsight/internal/transaction"
	"github.com/gorilla/websocket"
)

// seqSampler returns a distinguishable transaction per call: Time carries
// a strictly increasing sequence number.
type seqSampler struct {
	n atomic.Int64
}

func (s *seqSampler) Sample() transaction.Transaction {
	var tx transaction.Transaction
	tx[0] = float64(s.n.Add(1))
	return tx
}

// echoScorer pairs the verdict with the transaction it came from by
// echoing Time into the label map, and counts calls.
type echoScorer struct {
	calls atomic.Int64
	fail  func(call int64) bool
}

func (s *echoScorer) Score(ctx context.Context, tx transaction.Transaction) (model.Verdict, error) {
	call := s.calls.Add(1)
	if s.fail != nil && s.fail(call) {
		return nil, errors.New("synthetic scoring failure")
	}
	return model.Verdict{"echo": int(tx.Time())}, nil
}

type wireEvent struct {
	Message     string              `json:"message"`
	Predictions map[string]int      `json:"predictions"`
	Transaction map[string]*float64 `json:"transaction"`
}

func startHub(t *testing.T, scorer Scorer, sampler Sampler, interval time.Duration) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	h := NewHub(scorer, sampler, slog.Default(), WithInterval(interval))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	<-h.ready

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		<-h.done
		srv.Close()
	})
	return h, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (wireEvent, error) {
	t.Helper()
	var ev wireEvent
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if err := conn.ReadJSON(&ev); err != nil {
		return ev, err
	}
	return ev, nil
}

func TestSession_AckIsFirstFrame(t *testing.T) {
	_, srv, _ := startHub(t, &echoScorer{}, &seqSampler{}, 50*time.Millisecond)
	conn := dial(t, srv)
	defer func() { _ = conn.Close() }()

	ev, err := readEvent(t, conn, time.Second)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ev.Message != "Connected to WebSocket" {
		t.Errorf("first frame = %+v, want connection acknowledgement", ev)
	}
	if ev.Predictions != nil {
		t.Errorf("ack carried predictions: %+v", ev.Predictions)
	}
}

func TestSession_TickCadenceAndShape(t *testing.T) {
	const interval = 50 * time.Millisecond
	_, srv, _ := startHub(t, &echoScorer{}, &seqSampler{}, interval)
	conn := dial(t, srv)
	defer func() { _ = conn.Close() }()

	if _, err := readEvent(t, conn, time.Second); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	// Observe for 10 intervals; expect floor(D/I) +/- 1 ticks.
	deadline := time.Now().Add(10 * interval)
	var events []wireEvent
	for time.Now().Before(deadline) {
		ev, err := readEvent(t, conn, 2*interval)
		if err != nil {
			break
		}
		events = append(events, ev)
	}

	if len(events) < 8 || len(events) > 11 {
		t.Errorf("observed %d ticks over 10 intervals", len(events))
	}
	for i, ev := range events {
		if len(ev.Transaction) != transaction.FieldCount {
			t.Fatalf("event %d transaction has %d fields", i, len(ev.Transaction))
		}
		if _, ok := ev.Predictions["echo"]; !ok {
			t.Fatalf("event %d missing predictions", i)
		}
	}
}

func TestSession_PredictionPairsWithItsTransaction(t *testing.T) {
	const sessions = 2
	_, srv, _ := startHub(t, &echoScorer{}, &seqSampler{}, 20*time.Millisecond)

	results := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		go func() {
			conn := dial(t, srv)
			defer func() { _ = conn.Close() }()

			if _, err := readEvent(t, conn, time.Second); err != nil {
				results <- err
				return
			}
			for j := 0; j < 10; j++ {
				ev, err := readEvent(t, conn, time.Second)
				if err != nil {
					results <- err
					return
				}
				tv := ev.Transaction["Time"]
				if tv == nil {
					results <- errors.New("event missing Time field")
					return
				}
				if ev.Predictions["echo"] != int(*tv) {
					results <- errors.New("verdict paired with a different session's transaction")
					return
				}
			}
			results <- nil
		}()
	}

	for i := 0; i < sessions; i++ {
		if err := <-results; err != nil {
			t.Error(err)
		}
	}
}

func TestSession_TickErrorDoesNotKillSession(t *testing.T) {
	scorer := &echoScorer{fail: func(call int64) bool { return call%2 == 1 }}
	_, srv, _ := startHub(t, scorer, &seqSampler{}, 20*time.Millisecond)
	conn := dial(t, srv)
	defer func() { _ = conn.Close() }()

	if _, err := readEvent(t, conn, time.Second); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	// Every other score fails; the session must keep emitting the rest.
	got := 0
	for got < 3 {
		if _, err := readEvent(t, conn, time.Second); err != nil {
			t.Fatalf("session died after tick error: %v", err)
		}
		got++
	}
}

func TestSession_NoTicksAfterDisconnect(t *testing.T) {
	const interval = 20 * time.Millisecond
	scorer := &echoScorer{}
	h, srv, _ := startHub(t, scorer, &seqSampler{}, interval)
	conn := dial(t, srv)

	if _, err := readEvent(t, conn, time.Second); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	_ = conn.Close()

	// Wait for the hub to notice the disconnect.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()["activeSessions"].(int) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.Stats()["activeSessions"].(int); n != 0 {
		t.Fatalf("session still registered after disconnect: %d", n)
	}

	// Zero further scoring activity over several interval-lengths.
	settled := scorer.calls.Load()
	time.Sleep(5 * interval)
	if after := scorer.calls.Load(); after != settled {
		t.Errorf("scorer called %d times after disconnect", after-settled)
	}
}

func TestSession_InboundMessagesAcceptedAndIgnored(t *testing.T) {
	_, srv, _ := startHub(t, &echoScorer{}, &seqSampler{}, 20*time.Millisecond)
	conn := dial(t, srv)
	defer func() { _ = conn.Close() }()

	if _, err := readEvent(t, conn, time.Second); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"whatever": true}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The stream keeps flowing regardless of inbound noise.
	if _, err := readEvent(t, conn, time.Second); err != nil {
		t.Fatalf("stream stalled after inbound message: %v", err)
	}
}

func TestHub_RejectsUpgradeAfterShutdown(t *testing.T) {
	h, srv, cancel := startHub(t, &echoScorer{}, &seqSampler{}, 20*time.Millisecond)

	cancel()
	<-h.done

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected upgrade to fail after shutdown")
	}
	if resp != nil && resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHub_SessionCap(t *testing.T) {
	h := NewHub(&echoScorer{}, &seqSampler{}, slog.Default(), WithMaxSessions(1), WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	<-h.ready
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		<-h.done
		srv.Close()
	})

	first := dial(t, srv)
	defer func() { _ = first.Close() }()
	if _, err := readEvent(t, first, time.Second); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second session to be refused")
	}
	if resp != nil && resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
