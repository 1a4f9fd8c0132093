package ingest

import (
	"testing"

	"github.com/mffacts/mffacts/engine/domain"
)

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://groww.in/mutual-funds/groww-liquid-fund-direct-growth", "groww.in_mutual-funds_groww-liquid-fund-direct-growth"},
		{"http://example.com/a?tab=facts", "example.com_a_tab_facts"},
		{"groww.in", "groww.in"},
	}
	for _, tt := range tests {
		if got := SanitizeURL(tt.in); got != tt.want {
			t.Errorf("SanitizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPassageID(t *testing.T) {
	if got := PassageID("https://groww.in/x", 3); got != "groww.in_x_chunk3" {
		t.Errorf("PassageID = %q", got)
	}
}

func TestAssignIDs(t *testing.T) {
	doc := domain.Document{URL: "https://groww.in/fund", Text: "unused"}
	ps := AssignIDs(doc, []string{"a", "b", "c"})
	if len(ps) != 3 {
		t.Fatalf("got %d passages", len(ps))
	}
	for i, p := range ps {
		if p.ID != PassageID(doc.URL, i) {
			t.Errorf("passage %d id = %q", i, p.ID)
		}
		if p.Meta.URL != doc.URL || p.Meta.ChunkIndex != i || p.Meta.TotalChunks != 3 {
			t.Errorf("passage %d meta = %+v", i, p.Meta)
		}
	}
	if ps[1].Text != "b" {
		t.Errorf("text order not preserved: %q", ps[1].Text)
	}
	if got := AssignIDs(doc, nil); len(got) != 0 {
		t.Errorf("expected no passages, got %d", len(got))
	}
}
