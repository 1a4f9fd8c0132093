package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mffacts/mffacts/pkg/exitload"
	"github.com/mffacts/mffacts/pkg/fetch"
)

func TestSegment_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n  \n"} {
		if got := Segment(in, 800); len(got) != 0 {
			t.Errorf("Segment(%q) = %v, want empty", in, got)
		}
	}
}

func TestSegment_ExitLoadSectionFirst(t *testing.T) {
	text := "Groww Liquid Fund Direct Growth overview.\n\n" +
		"EXIT LOAD INFORMATION:\nExit load of 0.0070% if redeemed within 1 day\n\n" +
		"NAV: ₹2,345.67. Fund size ₹4,000 Cr."

	got := Segment(text, 800)
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d: %q", len(got), got)
	}
	want := "EXIT LOAD INFORMATION:\nExit load of 0.0070% if redeemed within 1 day"
	if got[0] != want {
		t.Errorf("first passage = %q, want %q", got[0], want)
	}
	if strings.Contains(got[1], "EXIT LOAD") || strings.Contains(strings.ToLower(got[1]), "exit load") {
		t.Errorf("exit-load text leaked into %q", got[1])
	}
	if got[1] != "Groww Liquid Fund Direct Growth overview.\n\nNAV: ₹2,345.67. Fund size ₹4,000 Cr." {
		t.Errorf("remaining passage = %q", got[1])
	}
}

func TestSegment_ExitLoadParagraphStandsAlone(t *testing.T) {
	text := "Minimum SIP amount is ₹100.\n\nThe Exit  Load is nil for this scheme.\n\nExpense ratio is 0.06%."
	got := Segment(text, 800)
	want := []string{
		"Minimum SIP amount is ₹100.",
		"The Exit  Load is nil for this scheme.",
		"Expense ratio is 0.06%.",
	}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("passage %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSegment_ExitLoadNeverMerged(t *testing.T) {
	var paras []string
	for i := 0; i < 10; i++ {
		paras = append(paras, "Plain fact paragraph about returns.")
		paras = append(paras, "exitload applies on redemption.")
	}
	for _, p := range Segment(strings.Join(paras, "\n\n"), 800) {
		if strings.Contains(p, "exitload") && strings.Contains(p, "returns") {
			t.Fatalf("exit-load paragraph merged: %q", p)
		}
	}
}

func TestSegment_PacksShortParagraphs(t *testing.T) {
	text := "AUM is 500 Cr.\n\nNAV is 10.\n\nRisk is low."
	got := Segment(text, 800)
	if len(got) != 1 || got[0] != "AUM is 500 Cr.\n\nNAV is 10.\n\nRisk is low." {
		t.Fatalf("got %q", got)
	}

	got = Segment(text, 20)
	if len(got) != 3 {
		t.Fatalf("small cap should split paragraphs, got %q", got)
	}
}

func TestSegment_LengthBound(t *testing.T) {
	long := strings.Repeat("The scheme invests in money market instruments of short maturity. ", 80)
	text := long + "\n\n" + strings.Repeat("Short note. ", 10)
	limit := int(800 * overflowFactor)
	for i, p := range Segment(text, 800) {
		if n := utf8.RuneCountInString(p); n > limit {
			t.Errorf("passage %d has %d chars, limit %d", i, n, limit)
		}
		if p == "" {
			t.Errorf("passage %d empty", i)
		}
	}
}

func TestSegment_LengthCountsRunes(t *testing.T) {
	// 300 rupee signs are 900 bytes but only 300 characters
	para := strings.Repeat("₹", 300)
	got := Segment(para+"\n\n"+para, 800)
	if len(got) != 1 {
		t.Fatalf("expected runes to fit in one passage, got %d", len(got))
	}
}

func TestSegment_NoSentenceBoundaryStaysWhole(t *testing.T) {
	blob := strings.Repeat("x", 2000)
	got := Segment(blob, 800)
	if len(got) != 1 || got[0] != blob {
		t.Fatalf("expected blob kept whole, got %d passages", len(got))
	}
}

func TestSegment_PreservesContent(t *testing.T) {
	text := "Groww Value Fund.\n\n" +
		strings.Repeat("Expense ratio is 1.2% per annum for the regular plan. ", 30) +
		"\n\nMinimum SIP ₹500.\n\nExit load 1% within 365 days."
	got := Segment(text, 300)

	words := make(map[string]bool)
	for _, p := range got {
		for _, w := range strings.Fields(p) {
			words[w] = true
		}
	}
	for _, w := range strings.Fields(text) {
		if !words[w] {
			t.Errorf("word %q lost", w)
		}
	}
}

func TestSegment_DefaultCap(t *testing.T) {
	text := strings.Repeat("Sentence about NAV. ", 100)
	a, b := Segment(text, 0), Segment(text, DefaultMaxPassageLength)
	if len(a) != len(b) {
		t.Fatalf("zero cap should use default: %d vs %d", len(a), len(b))
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two. Three")
	want := []string{"One.", "Two.", "Three"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%d: %q want %q", i, got[i], want[i])
		}
	}
}

func TestCutExitLoadSection(t *testing.T) {
	section, rest := cutExitLoadSection("head\n\nEXIT LOAD INFORMATION:\nNil\n\ntail")
	if section != "EXIT LOAD INFORMATION:\nNil" {
		t.Errorf("section = %q", section)
	}
	if !strings.Contains(rest, "head") || !strings.Contains(rest, "tail") || strings.Contains(rest, "Nil") {
		t.Errorf("rest = %q", rest)
	}

	section, rest = cutExitLoadSection("no marker here")
	if section != "" || rest != "no marker here" {
		t.Errorf("unexpected cut: %q / %q", section, rest)
	}
}

func TestSegment_ExtractedPageKeepsExitLoadFirst(t *testing.T) {
	html := `<html><body>
<h1>Groww Liquid Fund Direct Growth</h1>
<p>The scheme invests in money market instruments.</p>
<table><tr><th>Exit load</th><th>Holding period</th></tr><tr><td>Nil</td><td>After 7 days</td></tr></table>
<ul><li>Minimum SIP ₹500</li><li>Expense ratio 0.10%</li></ul>
</body></html>`
	text, err := fetch.Extract(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	passages := Segment(text, 800)
	if len(passages) == 0 || !strings.HasPrefix(passages[0], exitload.Marker) {
		t.Fatalf("first passage = %q", passages)
	}
	if strings.Contains(passages[0], "Minimum SIP") {
		t.Error("exit-load passage merged with unrelated text")
	}
}
