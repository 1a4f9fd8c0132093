package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mffacts/mffacts/pkg/exitload"
)

const (
	// DefaultMaxPassageLength is the soft cap, in characters, for one passage.
	DefaultMaxPassageLength = 800

	overflowFactor = 1.5
)

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// Segment splits raw document text into ordered passages of roughly maxLen
// characters. Exit-load content is never merged with unrelated paragraphs:
// the marked exit-load section comes first, and every other paragraph that
// mentions exit load becomes a passage of its own.
func Segment(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxPassageLength
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	p := &packer{max: maxLen}
	section, rest := cutExitLoadSection(text)
	if section != "" {
		p.out = append(p.out, section)
	}

	for _, para := range blankLine.Split(rest, -1) {
		if section != "" && strings.Contains(para, section) {
			para = strings.ReplaceAll(para, section, "")
		}
		para = strings.TrimSpace(para)
		switch {
		case para == "":
		case exitload.Mentioned(para):
			p.flush()
			p.out = append(p.out, para)
		case runeLen(para) > maxLen:
			p.flush()
			for _, s := range splitSentences(para) {
				p.add(s, " ")
			}
		default:
			p.add(para, "\n\n")
		}
	}
	p.flush()

	return splitOversized(p.out, maxLen)
}

// cutExitLoadSection removes the span from the first exitload.Marker to the
// next blank line and returns it trimmed, along with the remaining text.
func cutExitLoadSection(text string) (section, rest string) {
	idx := strings.Index(text, exitload.Marker)
	if idx < 0 {
		return "", text
	}
	before, after := text[:idx], text[idx+len(exitload.Marker):]
	body, tail := after, ""
	if loc := blankLine.FindStringIndex(after); loc != nil {
		body, tail = after[:loc[0]], after[loc[1]:]
	}
	if strings.TrimSpace(body) == "" {
		return "", before + "\n\n" + tail
	}
	return strings.TrimSpace(exitload.Marker + body), before + "\n\n" + tail
}

// splitSentences splits on ". " and restores the period the split consumed.
func splitSentences(text string) []string {
	parts := strings.Split(text, ". ")
	out := make([]string, 0, len(parts))
	for i, s := range parts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if i < len(parts)-1 && !strings.HasSuffix(s, ".") {
			s += "."
		}
		out = append(out, s)
	}
	return out
}

// splitOversized re-splits any passage longer than overflowFactor×maxLen at
// sentence boundaries.
func splitOversized(passages []string, maxLen int) []string {
	limit := int(float64(maxLen) * overflowFactor)
	out := make([]string, 0, len(passages))
	for _, text := range passages {
		if runeLen(text) <= limit {
			out = append(out, text)
			continue
		}
		p := &packer{max: maxLen}
		for _, s := range splitSentences(text) {
			p.add(s, " ")
		}
		p.flush()
		out = append(out, p.out...)
	}
	return out
}

// packer greedily accumulates pieces while the joined length stays under max.
type packer struct {
	max int
	cur string
	out []string
}

func (p *packer) add(piece, sep string) {
	if p.cur == "" {
		p.cur = piece
		return
	}
	if runeLen(p.cur)+runeLen(piece)+len(sep) < p.max {
		p.cur += sep + piece
		return
	}
	p.flush()
	p.cur = piece
}

func (p *packer) flush() {
	if s := strings.TrimSpace(p.cur); s != "" {
		p.out = append(p.out, s)
	}
	p.cur = ""
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
