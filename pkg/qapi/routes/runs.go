package routes

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qmag/pkg/qapi/schemas"
	"github.com/quatton/qmag/pkg/qapi/services/runs"
	"github.com/quatton/qmag/pkg/qlog"
)

// SubmitRunInput defines the input for submitting a run
type SubmitRunInput struct {
	Body schemas.SubmitRunRequest
}

// RunOutput wraps a single run
type RunOutput struct {
	Body schemas.RunResponse
}

// RunIDInput addresses a run by ID
type RunIDInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// ListRunsOutput is the response for listing runs
type ListRunsOutput struct {
	Body schemas.RunListResponse
}

// ListRunArtifactsOutput is the response for listing run artifacts
type ListRunArtifactsOutput struct {
	Body struct {
		Artifacts []schemas.RunArtifact `json:"artifacts" doc:"List of artifacts"`
	}
}

// GetArtifactURLInput defines the input for getting an artifact presigned URL
type GetArtifactURLInput struct {
	RunID    string `path:"runId" doc:"Run ID"`
	Filename string `path:"filename" doc:"Artifact filename"`
}

// GetArtifactURLOutput is the response for getting an artifact presigned URL
type GetArtifactURLOutput struct {
	Body struct {
		URL string `json:"url" doc:"Presigned download URL"`
	}
}

// RegisterRuns registers run-related routes
func RegisterRuns(api huma.API, svc *runs.Service, logger *qlog.Logger) {
	logger = qlog.OrQuiet(logger)

	huma.Register(api, huma.Operation{
		OperationID:   "submit-run",
		Method:        http.MethodPost,
		Path:          "/api/runs",
		Summary:       "Submit a new run",
		Description:   "Stores the input files and starts the run on the server's backend. Poll get-run for the outcome.",
		Tags:          []string{TagRuns.String()},
		Security:      BearerAuth,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SubmitRunInput) (*RunOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("no runner configured")
		}
		run, err := svc.Submit(ctx, input.Body)
		if err != nil {
			return nil, runError(logger, err)
		}
		return &RunOutput{Body: *run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "Lists runs whose state has not expired, newest first. Output files are omitted.",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *struct{}) (*ListRunsOutput, error) {
		resp := &ListRunsOutput{}
		resp.Body.Runs = []schemas.RunResponse{}
		if svc == nil {
			return resp, nil
		}
		list, err := svc.List(ctx)
		if err != nil {
			return nil, runError(logger, err)
		}
		resp.Body.Runs = list
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}",
		Summary:     "Get run details",
		Description: "Returns the run's state and, once it has finished, its exit code, output and files",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *RunIDInput) (*RunOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("no runner configured")
		}
		run, err := svc.Get(ctx, input.RunID)
		if err != nil {
			return nil, runError(logger, err)
		}
		return &RunOutput{Body: *run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-run",
		Method:      http.MethodDelete,
		Path:        "/api/runs/{runId}",
		Summary:     "Cancel a run",
		Description: "Stops a pending or running run. Finished runs are returned unchanged.",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *RunIDInput) (*RunOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("no runner configured")
		}
		run, err := svc.Cancel(ctx, input.RunID)
		if err != nil {
			return nil, runError(logger, err)
		}
		return &RunOutput{Body: *run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-artifacts",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts",
		Summary:     "List run artifacts",
		Description: "List all artifacts uploaded for a run",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *RunIDInput) (*ListRunArtifactsOutput, error) {
		if svc == nil || !svc.ArtifactsEnabled() {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		objects, err := svc.Artifacts(ctx, input.RunID)
		if err != nil {
			return nil, runError(logger, err)
		}

		resp := &ListRunArtifactsOutput{}
		resp.Body.Artifacts = make([]schemas.RunArtifact, 0, len(objects))
		for _, obj := range objects {
			resp.Body.Artifacts = append(resp.Body.Artifacts, schemas.RunArtifact{
				Key:         obj.Key,
				Filename:    path.Base(obj.Key),
				Size:        obj.Size,
				ContentType: obj.ContentType,
			})
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact-url",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts/{filename}/url",
		Summary:     "Get artifact download URL",
		Description: "Get a presigned URL, valid for one hour, to download an artifact",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *GetArtifactURLInput) (*GetArtifactURLOutput, error) {
		if svc == nil || !svc.ArtifactsEnabled() {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		url, err := svc.ArtifactURL(ctx, input.RunID, input.Filename)
		if err != nil {
			return nil, runError(logger, err)
		}

		resp := &GetArtifactURLOutput{}
		resp.Body.URL = url
		return resp, nil
	})
}

// runError maps service errors onto HTTP errors.
func runError(logger *qlog.Logger, err error) error {
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		return huma.Error404NotFound("run not found")
	case errors.Is(err, runs.ErrInvalidRun):
		return huma.Error400BadRequest(err.Error())
	default:
		logger.Error("run request failed", "error", err)
		return huma.Error500InternalServerError("internal error", err)
	}
}
