package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/rag"
	"github.com/mffacts/mffacts/pkg/metrics"
	"github.com/mffacts/mffacts/pkg/natsutil"
)

type fakeAnswerer struct {
	ans   domain.Answer
	out   rag.Outcome
	query string
	calls int
}

func (f *fakeAnswerer) Answer(_ context.Context, q string) (domain.Answer, rag.Outcome) {
	f.calls++
	f.query = q
	return f.ans, f.out
}

type recordingConn struct{ msgs []*nats.Msg }

func (c *recordingConn) PublishMsg(m *nats.Msg) error { c.msgs = append(c.msgs, m); return nil }
func (c *recordingConn) Subscribe(string, nats.MsgHandler) (*nats.Subscription, error) {
	return nil, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(svc answerer, conn natsutil.Conn) (*server, *metrics.Registry) {
	reg := metrics.New()
	return newServer(svc, natsutil.NewEvents(conn, quietLogger()), newAPIMetrics(reg), quietLogger()), reg
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(&fakeAnswerer{}, nil)
	h := srv.routes("*")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.LastRebuild != nil {
		t.Fatalf("resp = %+v", resp)
	}

	srv.onRebuild(context.Background(), natsutil.IndexRebuilt{Indexed: 37, Documents: 4, BuiltAt: time.Now()})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	resp = HealthResponse{}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.LastRebuild == nil || resp.LastRebuild.Indexed != 37 {
		t.Fatalf("last rebuild = %+v", resp.LastRebuild)
	}
	if srv.metrics.indexed.Value() != 37 {
		t.Errorf("indexed gauge = %d", srv.metrics.indexed.Value())
	}
}

func TestAsk(t *testing.T) {
	url := "https://groww.in/mutual-funds/hdfc-liquid-fund-direct-growth"
	fake := &fakeAnswerer{
		ans: domain.Answer{Answer: "Exit Load: Nil", Citation: &url, Timestamp: "2026-10-18"},
		out: rag.OutcomeAnswered,
	}
	conn := &recordingConn{}
	srv, reg := newTestServer(fake, conn)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"What is the exit load of HDFC Liquid Fund?"}`))
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	srv.routes("*").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var got domain.Answer
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Answer != "Exit Load: Nil" || got.Citation == nil || *got.Citation != url || got.Refused {
		t.Errorf("answer = %+v", got)
	}
	if fake.query != "What is the exit load of HDFC Liquid Fund?" {
		t.Errorf("query = %q", fake.query)
	}

	if len(conn.msgs) != 1 || conn.msgs[0].Subject != natsutil.SubjectAnswerAudit {
		t.Fatalf("audit events = %d", len(conn.msgs))
	}
	var audit natsutil.AnswerAudit
	_ = json.Unmarshal(conn.msgs[0].Data, &audit)
	if audit.RequestID != "req-1" || audit.Outcome != "answered" || audit.Citation != url || audit.QuestionLen != 42 {
		t.Errorf("audit = %+v", audit)
	}
	if bytes.Contains(conn.msgs[0].Data, []byte("HDFC")) {
		t.Error("audit event must not carry the question text")
	}

	out := reg.Render()
	if !strings.Contains(out, `mffacts_answers_total{outcome="answered"} 1`) || !strings.Contains(out, `mffacts_answers_total{outcome="refused"} 0`) {
		t.Errorf("metrics:\n%s", out)
	}
}

func TestAsk_NullCitation(t *testing.T) {
	fake := &fakeAnswerer{ans: domain.Answer{Answer: rag.NoInfoText, Timestamp: "2026-10-18"}, out: rag.OutcomeNoInfo}
	srv, _ := newTestServer(fake, nil)

	rec := httptest.NewRecorder()
	srv.routes("*").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":""}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"citation":null`) {
		t.Errorf("body = %s", rec.Body)
	}
	if fake.calls != 1 {
		t.Error("empty questions are still answered by the service")
	}
}

func TestAsk_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "not json", http.StatusBadRequest},
		{"too large", `{"question":"` + strings.Repeat("a", maxRequestBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAnswerer{}
			srv, _ := newTestServer(fake, nil)
			rec := httptest.NewRecorder()
			srv.routes("*").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if fake.calls != 0 {
				t.Error("service should not be called")
			}
		})
	}
}

func TestAsk_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(&fakeAnswerer{}, nil)
	rec := httptest.NewRecorder()
	srv.routes("*").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ask", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("MFFACTS_TEST_ENV", "custom")
	if v := envOr("MFFACTS_TEST_ENV", "default"); v != "custom" {
		t.Fatalf("got %s", v)
	}
	if v := envOr("MFFACTS_UNSET_ENV", "fallback"); v != "fallback" {
		t.Fatalf("got %s", v)
	}
}
