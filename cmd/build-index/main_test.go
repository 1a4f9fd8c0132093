package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/mffacts/mffacts/engine/bootstrap"
	"github.com/mffacts/mffacts/engine/ingest"
	"github.com/mffacts/mffacts/engine/semantic"
	"github.com/mffacts/mffacts/pkg/config"
	"github.com/mffacts/mffacts/pkg/natsutil"
	"github.com/mffacts/mffacts/pkg/snapshot"
)

type recordingConn struct{ msgs []*nats.Msg }

func (c *recordingConn) PublishMsg(m *nats.Msg) error { c.msgs = append(c.msgs, m); return nil }
func (c *recordingConn) Subscribe(string, nats.MsgHandler) (*nats.Subscription, error) {
	return nil, nil
}

func ollamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testApp(t *testing.T) *bootstrap.App {
	t.Helper()
	cfg := config.Default()
	cfg.VectorStore.Type = "memory"
	cfg.Snapshot.Type = "none"
	cfg.Embedder.Provider = "ollama"
	cfg.Embedder.BaseURL = ollamaServer(t).URL
	cfg.Embedder.Dimensions = 0
	cfg.Build.EmbedIntervalMS = 0

	app, err := bootstrap.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func writeSnapshot(t *testing.T, docs []snapshot.Record) string {
	t.Helper()
	data, err := snapshot.Encode(docs)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), snapshot.FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuild_FromSnapshot(t *testing.T) {
	app := testApp(t)
	path := writeSnapshot(t, []snapshot.Record{
		{
			URL:  "https://groww.in/mutual-funds/hdfc-liquid-fund-direct-growth",
			Text: "EXIT LOAD INFORMATION:\nExit Load: Nil\n\nHDFC Liquid Fund invests in money market instruments with short maturities.",
		},
		{
			URL:  "https://groww.in/mutual-funds/short",
			Text: "too short",
		},
	})
	metricsPath := filepath.Join(t.TempDir(), "build.prom")
	conn := &recordingConn{}

	var out bytes.Buffer
	err := build(context.Background(), app, options{FromSnapshot: path, MetricsFile: metricsPath}, natsutil.NewEvents(conn, app.Logger), &out)
	if err != nil {
		t.Fatal(err)
	}

	var rep ingest.Report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("report: %v\n%s", err, out.String())
	}
	if rep.URLs != 2 || rep.Documents != 1 || rep.Skipped != 1 || rep.Indexed != 2 || rep.Dimensions != 3 {
		t.Errorf("report = %+v", rep)
	}
	if n := app.Store.(*semantic.MemoryStore).Len(); n != 2 {
		t.Errorf("store holds %d records", n)
	}

	if len(conn.msgs) != 1 || conn.msgs[0].Subject != natsutil.SubjectIndexRebuilt {
		t.Fatalf("events = %d", len(conn.msgs))
	}
	var ev natsutil.IndexRebuilt
	_ = json.Unmarshal(conn.msgs[0].Data, &ev)
	if ev.Indexed != 2 || ev.Documents != 1 {
		t.Errorf("event = %+v", ev)
	}

	prom, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"mffacts_build_indexed 2", "mffacts_build_success 1", `mffacts_build_failures{stage="skip"} 1`} {
		if !strings.Contains(string(prom), want) {
			t.Errorf("metrics missing %q:\n%s", want, prom)
		}
	}
}

func TestBuild_NothingExtracted(t *testing.T) {
	app := testApp(t)
	path := writeSnapshot(t, []snapshot.Record{{URL: "https://groww.in/a", Text: "tiny"}})
	conn := &recordingConn{}

	var out bytes.Buffer
	err := build(context.Background(), app, options{FromSnapshot: path}, natsutil.NewEvents(conn, app.Logger), &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), `"skipped": 1`) {
		t.Errorf("report still expected on failure, got %s", out.String())
	}
	if len(conn.msgs) != 0 {
		t.Error("failed builds must not announce a rebuild")
	}
}

func TestBuild_MissingSnapshot(t *testing.T) {
	app := testApp(t)
	err := build(context.Background(), app, options{FromSnapshot: filepath.Join(t.TempDir(), "nope.json")}, nil, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "open snapshot") {
		t.Fatalf("err = %v", err)
	}
}
