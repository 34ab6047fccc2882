package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelsync/internal/pipeline"
	logx "reelsync/pkg/logx"
)

func TestFetchDownloadsToDir(t *testing.T) {
	t.Parallel()
	payload := "binary video bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(dir, "reelsync-test", logx.Nop())
	h, err := f.Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Dir(h.Path) != dir {
		t.Fatalf("downloaded outside dir: %s", h.Path)
	}
	if !strings.HasSuffix(h.Path, ".mp4") {
		t.Fatalf("unexpected extension: %s", h.Path)
	}
	b, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(b) != payload {
		t.Fatal("downloaded content mismatch")
	}
}

func TestFetchGoneSourceIsPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(t.TempDir(), "", logx.Nop())
	_, err := f.Fetch(context.Background(), srv.URL, "")
	if !pipeline.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestTransformStagesCopy(t *testing.T) {
	t.Parallel()
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "a.mp4")
	if err := os.WriteFile(src, []byte("clip"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	tr := NewCopyTransformer(dstDir, logx.Nop())
	out, err := tr.Transform(context.Background(), pipeline.MediaHandle{Path: src})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if filepath.Dir(out.Path) != dstDir {
		t.Fatalf("staged outside dir: %s", out.Path)
	}
	b, _ := os.ReadFile(out.Path)
	if string(b) != "clip" {
		t.Fatal("staged content mismatch")
	}
	// Original stays in place for cleanup to handle.
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source missing after staging: %v", err)
	}
}

func TestCleanRemovesArtifacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := NewFSCleaner(logx.Nop())
	err := c.Clean(context.Background(),
		pipeline.MediaHandle{Path: a},
		pipeline.MediaHandle{Path: filepath.Join(dir, "missing.mp4")},
		pipeline.MediaHandle{})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatal("artifact still present")
	}
}
