package gpucompute

// Option configures a Context during creation.
//
// Example:
//
//	ctx, err := gpucompute.NewContext(dev,
//	    gpucompute.WithDefaultRetryLimit(10),
//	    gpucompute.WithReadbackWorkers(2),
//	)
type Option func(*Config)

// WithConfig replaces the whole configuration, typically one returned by
// LoadConfig. Options after it still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithDefaultRetryLimit sets the retry limit used by workers that do not
// set their own.
func WithDefaultRetryLimit(n int) Option {
	return func(c *Config) {
		c.RetryLimit = n
	}
}

// WithRowAlignment sets the image row alignment of staging buffers.
// NewContext rejects values that are not a multiple of the device copy
// alignment; the default is DefaultRowAlignment.
func WithRowAlignment(n uint32) Option {
	return func(c *Config) {
		c.RowAlignment = n
	}
}

// WithReadbackWorkers sets the number of goroutines that de-pad staged images.
func WithReadbackWorkers(n int) Option {
	return func(c *Config) {
		c.ReadbackWorkers = n
	}
}

// WorkerOption configures a Worker during creation.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	retryLimit int
	label      string
}

// WithRetryLimit bounds how many times a job of this worker is requeued
// after bind group preparation fails. The default comes from Config.
func WithRetryLimit(n int) WorkerOption {
	return func(o *workerOptions) {
		o.retryLimit = n
	}
}

// WithLabel sets the debug label of the worker's GPU resources and log
// records. By default the label comes from Labeler or the Go type name.
func WithLabel(label string) WorkerOption {
	return func(o *workerOptions) {
		o.label = label
	}
}
