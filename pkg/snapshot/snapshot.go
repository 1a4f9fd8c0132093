// Package snapshot persists the extracted corpus of an index build as
// parsed_data.json, a JSON array of {url, text} records, either on local
// disk or in S3. A saved snapshot can be replayed as a page source to
// rebuild the index without refetching.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	// FileName is the snapshot object name.
	FileName = "parsed_data.json"
	// MaxTextChars caps each record's text.
	MaxTextChars = 10000
)

// Record is one extracted page in a snapshot.
type Record struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// ErrNotInSnapshot is returned by Corpus.Fetch for unknown URLs.
var ErrNotInSnapshot = errors.New("snapshot: url not in snapshot")

// Encode renders docs as an indented JSON array with text capped at
// MaxTextChars characters. Non-ASCII text is written as-is.
func Encode(docs []Record) ([]byte, error) {
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, Record{URL: d.URL, Text: capRunes(d.Text, MaxTextChars)})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) ([]Record, error) {
	var docs []Record
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return docs, nil
}

func capRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Local writes snapshots into a directory.
type Local struct {
	dir string
}

// NewLocal creates a sink writing dir/parsed_data.json.
func NewLocal(dir string) *Local { return &Local{dir: dir} }

// Path is the snapshot file location.
func (l *Local) Path() string { return filepath.Join(l.dir, FileName) }

// Save writes docs, replacing any previous snapshot atomically.
func (l *Local) Save(_ context.Context, docs []Record) error {
	data, err := Encode(docs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(l.dir, FileName+".*")
	if err != nil {
		return fmt.Errorf("snapshot: create: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.Path()); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Load reads the saved snapshot.
func (l *Local) Load(_ context.Context) ([]Record, error) {
	f, err := os.Open(l.Path())
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Corpus serves saved documents as a page source.
type Corpus struct {
	mu   sync.RWMutex
	urls []string
	text map[string]string
}

// NewCorpus indexes docs by URL. Later duplicates win.
func NewCorpus(docs []Record) *Corpus {
	c := &Corpus{text: make(map[string]string, len(docs))}
	for _, d := range docs {
		if _, ok := c.text[d.URL]; !ok {
			c.urls = append(c.urls, d.URL)
		}
		c.text[d.URL] = d.Text
	}
	return c
}

// URLs lists the snapshot's URLs in first-seen order.
func (c *Corpus) URLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.urls...)
}

// Fetch returns the saved text of url.
func (c *Corpus) Fetch(_ context.Context, url string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.text[url]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotInSnapshot, url)
	}
	return t, nil
}
