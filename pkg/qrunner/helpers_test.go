package qrunner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

var jobSeq atomic.Int64

func newTestJob(t *testing.T, inputs map[string]string) Job {
	t.Helper()
	dir := t.TempDir()
	job := Job{
		ID:   fmt.Sprintf("job-%d", jobSeq.Add(1)),
		Name: "test",
		Dir:  dir,
	}
	for name, content := range inputs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing input: %v", err)
		}
		job.Inputs = append(job.Inputs, name)
	}
	return job
}

func shell(script string) []string {
	return []string{"sh", "-c", script}
}
