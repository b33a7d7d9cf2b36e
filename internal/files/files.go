// Package files serves the dashboard's file browser: directory tree listings
// and content fetches annotated with a detected language and, for markdown,
// pre-rendered HTML.
package files

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/yuin/goldmark"
)

// ErrBinary is returned by Fetch for files that do not look like text.
var ErrBinary = errors.New("binary file")

// Directories that never belong in a dashboard tree.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

const maxTreeEntries = 10000

// Node is one entry in a tree listing.
type Node struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Dir      bool   `json:"dir"`
	Size     int64  `json:"size,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// Content is the payload of a content fetch.
type Content struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Language  string `json:"language"`
	Markdown  string `json:"markdown,omitempty"`
	Truncated bool   `json:"truncated"`
}

// Service answers tree and content requests.
type Service struct {
	maxFileBytes int64
	markdown     goldmark.Markdown
}

// NewService creates a Service. Content fetches above maxFileBytes are
// truncated with the flag set.
func NewService(maxFileBytes int64) *Service {
	return &Service{
		maxFileBytes: maxFileBytes,
		markdown:     goldmark.New(),
	}
}

// Tree lists the directory at root recursively, skipping hidden entries and
// dependency directories. The walk stops adding entries once the listing
// reaches a fixed cap so a pathological root cannot blow up the response.
func (s *Service) Tree(root string) (Node, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Node{}, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return Node{}, fmt.Errorf("root %s is not a directory", root)
	}

	budget := maxTreeEntries
	node := Node{Name: filepath.Base(root), Path: root, Dir: true}
	node.Children, err = s.listDir(root, &budget)
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

func (s *Service) listDir(dir string, budget *int) ([]Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	// Directories first, then files, both alphabetical.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var out []Node
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || (entry.IsDir() && skipDirs[name]) {
			continue
		}
		if *budget <= 0 {
			break
		}
		*budget--

		child := Node{
			Name: name,
			Path: filepath.Join(dir, name),
			Dir:  entry.IsDir(),
		}
		if entry.IsDir() {
			child.Children, err = s.listDir(child.Path, budget)
			if err != nil {
				return nil, err
			}
		} else if info, err := entry.Info(); err == nil {
			child.Size = info.Size()
		}
		out = append(out, child)
	}
	return out, nil
}

// Fetch reads the file at path and annotates it. Content beyond the
// configured limit is cut at the limit with Truncated set. Markdown files
// additionally carry the rendered HTML of the (possibly truncated) content.
func (s *Service) Fetch(path string) (Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("read file: %w", err)
	}
	if looksBinary(data) {
		return Content{}, ErrBinary
	}

	result := Content{Path: path, Language: detectLanguage(path)}
	if s.maxFileBytes > 0 && int64(len(data)) > s.maxFileBytes {
		data = data[:s.maxFileBytes]
		result.Truncated = true
	}
	result.Content = string(data)

	if strings.EqualFold(filepath.Ext(path), ".md") {
		var buf bytes.Buffer
		if err := s.markdown.Convert(data, &buf); err != nil {
			return Content{}, fmt.Errorf("render markdown: %w", err)
		}
		result.Markdown = buf.String()
	}
	return result, nil
}

// detectLanguage maps a filename to a highlighter language name, or "" when
// no lexer matches.
func detectLanguage(path string) string {
	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		return ""
	}
	return lexer.Config().Name
}

// looksBinary reports whether the leading bytes contain a NUL, the same
// cheap test git uses to classify blobs.
func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	return bytes.IndexByte(sample, 0) >= 0
}
