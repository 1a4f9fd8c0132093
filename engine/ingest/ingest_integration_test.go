//go:build integration

package ingest

import (
	"context"
	"os"
	"testing"

	"github.com/mffacts/mffacts/engine/semantic"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestBuild_QdrantEndToEnd(t *testing.T) {
	ctx := context.Background()

	vs, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), "test_ingest_e2e")
	if err != nil {
		t.Fatalf("qdrant connect: %v", err)
	}
	defer func() {
		vs.DeleteCollection(ctx)
		vs.Close()
	}()

	f := &fakeFetcher{pages: map[string]string{liquidURL: liquidPage(), valueURL: valuePage()}}
	b := newTestBuilder(f, &fakeEmbedder{dims: 4}, vs)

	for run := 0; run < 2; run++ {
		rep, err := b.Build(ctx, []string{liquidURL, valueURL})
		if err != nil {
			t.Fatalf("build %d: %v", run, err)
		}
		if rep.Indexed != 4 {
			t.Fatalf("build %d indexed %d, want 4", run, rep.Indexed)
		}
	}

	results, err := vs.Search(ctx, []float32{1, 2, 3, 4}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 points after two rebuilds, got %d", len(results))
	}
}
