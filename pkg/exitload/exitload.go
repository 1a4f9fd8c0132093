// Package exitload recognizes exit-load text. The page extractor and the
// segmenter agree on it through this package.
package exitload

import "strings"

// Marker heads the exit-load section the page extractor prepends to a
// document.
const Marker = "EXIT LOAD INFORMATION:"

// Mentioned reports whether text talks about exit load, ignoring case and
// whitespace, so "Exit  Load", "EXIT\nLOAD" and "exitload" all count.
func Mentioned(text string) bool {
	return strings.Contains(strings.ToLower(strings.Join(strings.Fields(text), "")), "exitload")
}
