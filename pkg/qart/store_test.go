package qart

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestUploadFiles(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"stdout.log": "out",
		"run.json":   `{"job_id":"j1"}`,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := NewMemoryStore()
	uploaded, err := UploadFiles(context.Background(), store, "j1", dir, []string{"stdout.log", "run.json", "missing.log"}, nil)
	if err != nil {
		t.Fatalf("UploadFiles failed: %v", err)
	}
	if len(uploaded) != 2 {
		t.Fatalf("Expected 2 uploads, got %d", len(uploaded))
	}

	list, err := store.List(context.Background(), JobPrefix("j1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Key != "runs/j1/run.json" || list[0].ContentType != "application/json" {
		t.Errorf("Unexpected listing %+v", list)
	}

	rc, err := store.Download(context.Background(), JobKey("j1", "stdout.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "out" {
		t.Errorf("Unexpected content %q", data)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Download(context.Background(), "runs/x/none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.PresignedURL(context.Background(), "runs/x/none", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestS3Config_Enabled(t *testing.T) {
	if (S3Config{}).Enabled() {
		t.Error("Empty config must be disabled")
	}
	if !(S3Config{Endpoint: "localhost:9000", Bucket: "qmag"}).Enabled() {
		t.Error("Expected endpoint+bucket to enable the store")
	}
}
