package schemas

// RunStatus represents the execution state of a remote run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusError     RunStatus = "error"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled, RunStatusError:
		return true
	}
	return false
}

// SubmitRunRequest represents a request to submit a run
type SubmitRunRequest struct {
	Name     string            `json:"name,omitempty" doc:"Run name (optional)"`
	ClientID string            `json:"client_id,omitempty" maxLength:"128" doc:"Idempotency key; resubmitting the same key returns the existing run"`
	Args     []string          `json:"args,omitempty" doc:"Arguments appended to the server's OOMMF command"`
	Env      map[string]string `json:"env,omitempty" doc:"Environment variables"`
	Files    map[string][]byte `json:"files,omitempty" doc:"Input files by name, base64 encoded"`
}

// RunResponse represents a remote run and, once terminal, its outcome
type RunResponse struct {
	ID         string            `json:"id" doc:"Run ID"`
	Name       string            `json:"name,omitempty" doc:"Run name"`
	Backend    string            `json:"backend" doc:"Backend executing the run on the server"`
	Status     RunStatus         `json:"status" doc:"Run status" enum:"pending,running,succeeded,failed,cancelled,error"`
	ExitCode   *int              `json:"exit_code,omitempty" doc:"Exit code"`
	Stdout     string            `json:"stdout,omitempty" doc:"Captured standard output"`
	Stderr     string            `json:"stderr,omitempty" doc:"Captured standard error"`
	Error      string            `json:"error,omitempty" doc:"Error message when status is error"`
	ErrorCode  string            `json:"error_code,omitempty" doc:"Error category when status is error"`
	Files      map[string][]byte `json:"files,omitempty" doc:"Output files produced by the run, base64 encoded"`
	CreatedAt  string            `json:"created_at" doc:"Creation timestamp"`
	StartedAt  *string           `json:"started_at,omitempty" doc:"Start timestamp"`
	FinishedAt *string           `json:"finished_at,omitempty" doc:"Finish timestamp"`
}

// HealthResponse reports server liveness
type HealthResponse struct {
	Status  string `json:"status" doc:"Always ok when the server answers"`
	Backend string `json:"backend" doc:"Backend the server executes runs on"`
}

// BackendStatus reports one backend's availability
type BackendStatus struct {
	Name      string `json:"name" doc:"Backend name"`
	Available bool   `json:"available" doc:"Whether the backend passed its status check"`
	Error     string `json:"error,omitempty" doc:"Why the backend is unavailable"`
}

// BackendsResponse lists the server's backends
type BackendsResponse struct {
	Backends []BackendStatus `json:"backends" doc:"Enabled backends"`
}

// RunListResponse lists stored runs without their output files
type RunListResponse struct {
	Runs []RunResponse `json:"runs" doc:"Runs, newest first"`
}

// RunArtifact represents a file uploaded for a run
type RunArtifact struct {
	Key         string `json:"key" doc:"Object key"`
	Filename    string `json:"filename" doc:"File name"`
	Size        int64  `json:"size" doc:"Size in bytes"`
	ContentType string `json:"content_type,omitempty" doc:"MIME type"`
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	Subject     string `json:"subject" doc:"Token subject, or anonymous"`
	AuthEnabled bool   `json:"auth_enabled" doc:"Whether the server requires tokens"`
	ExpiresAt   *int64 `json:"expires_at,omitempty" doc:"Token expiry as a unix timestamp"`
}
