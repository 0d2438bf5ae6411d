package qrunner

import (
	"io"
	"net/http"
	"time"

	"github.com/quatton/qmag/pkg/qlog"
)

type options struct {
	logger       *qlog.Logger
	cache        *ImageCache
	stdout       io.Writer
	stderr       io.Writer
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option configures a runner.
type Option func(*options)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *qlog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithImageCache replaces the process-wide image cache (docker only).
func WithImageCache(cache *ImageCache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithOutput tees the job's stdout and stderr to the given writers as the job
// runs. Output is still captured into the RunResult.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithHTTPClient sets the base HTTP client (remote only).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithPollInterval sets how often remote and k8s runners poll for completion.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = qlog.OrQuiet(o.logger)
	if o.cache == nil {
		o.cache = DefaultImageCache()
	}
	return o
}
