package files_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentdeck/agentdeck/internal/files"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestTreeSkipsHiddenAndDependencyDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "docs", "readme.md"), "# hi\n")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref\n")
	writeFile(t, filepath.Join(root, "node_modules", "x", "index.js"), "x\n")
	writeFile(t, filepath.Join(root, ".hidden"), "x\n")

	svc := files.NewService(1 << 20)
	tree, err := svc.Tree(root)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}

	var names []string
	for _, child := range tree.Children {
		names = append(names, child.Name)
	}
	if len(names) != 2 || names[0] != "docs" || names[1] != "main.go" {
		t.Fatalf("children = %v, want [docs main.go]", names)
	}
	if !tree.Children[0].Dir || len(tree.Children[0].Children) != 1 {
		t.Fatalf("docs subtree = %+v", tree.Children[0])
	}
}

func TestTreeRejectsFilesAsRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	writeFile(t, path, "x")

	svc := files.NewService(1 << 20)
	if _, err := svc.Tree(path); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}

func TestFetchDetectsLanguage(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	writeFile(t, path, "package main\n")

	svc := files.NewService(1 << 20)
	got, err := svc.Fetch(path)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Language != "Go" {
		t.Fatalf("language = %q, want Go", got.Language)
	}
	if got.Truncated {
		t.Fatal("unexpected truncation")
	}
	if got.Markdown != "" {
		t.Fatal("non-markdown file carries rendered markdown")
	}
}

func TestFetchUnknownExtensionHasEmptyLanguage(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.zzqq")
	writeFile(t, path, "plain text\n")

	svc := files.NewService(1 << 20)
	got, err := svc.Fetch(path)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Language != "" {
		t.Fatalf("language = %q, want empty", got.Language)
	}
}

func TestFetchRendersMarkdown(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "README.md")
	writeFile(t, path, "# Title\n\nbody\n")

	svc := files.NewService(1 << 20)
	got, err := svc.Fetch(path)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(got.Markdown, "<h1") {
		t.Fatalf("markdown = %q, want rendered heading", got.Markdown)
	}
}

func TestFetchTruncatesLargeFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.txt")
	writeFile(t, path, strings.Repeat("a", 100))

	svc := files.NewService(10)
	got, err := svc.Fetch(path)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !got.Truncated {
		t.Fatal("truncated flag not set")
	}
	if len(got.Content) != 10 {
		t.Fatalf("content length = %d, want 10", len(got.Content))
	}
}

func TestFetchRejectsBinary(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "blob.bin")
	if err := os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F', 0x00, 0x01}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	svc := files.NewService(1 << 20)
	if _, err := svc.Fetch(path); !errors.Is(err, files.ErrBinary) {
		t.Fatalf("err = %v, want ErrBinary", err)
	}
}
