package workspacesync

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestSyncWorkspace_StreamsGzipTarBody(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", "hello workspace")
	writeFile(t, dir, "sub/file.txt", "nested")

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("request body is not gzip: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = gr.Close() }()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	result, err := client.SyncWorkspace(context.Background(), "s1", "message.stop", time.Now(), "r1", dir)
	if err != nil {
		t.Fatalf("SyncWorkspace() error = %v", err)
	}
	if !result.OK {
		t.Error("expected OK result")
	}
	if gotQuery == "" {
		t.Error("expected query string to carry sessionId/reason/runId")
	}
}

func TestSyncWorkspace_NonOKStatusReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "x")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("object store down"))
	}))
	defer server.Close()

	client := New(server.URL, server.Client())
	_, err := client.SyncWorkspace(context.Background(), "s1", "pre.stop", time.Now(), "r1", dir)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
