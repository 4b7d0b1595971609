package querymanager

import (
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/nebulastream/worker-core/internal/logging"
)

// Config enumerates exactly the options spec §6 names, following the
// teacher's eventloop.Option functional-option idiom (eventloop/options.go).
type Config struct {
	WorkerThreads      uint
	BufferSize         uint
	TotalBufferBudget  uint
	PerQueryBufferQuota uint
	SinkRetryDelay     time.Duration
	EnableLeakTracking bool

	logger *logging.Logger
}

// Option configures a Config at Manager construction time.
type Option func(*Config)

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		WorkerThreads:       uint(runtime.NumCPU()),
		BufferSize:          4096,
		TotalBufferBudget:   64 * 1024 * 1024,
		PerQueryBufferQuota: 1024,
		SinkRetryDelay:      10 * time.Millisecond,
		EnableLeakTracking:  false,
		logger:              logging.Discard(),
	}
}

func WithWorkerThreads(n uint) Option { return func(c *Config) { c.WorkerThreads = n } }
func WithBufferSize(n uint) Option    { return func(c *Config) { c.BufferSize = n } }
func WithTotalBufferBudget(n uint) Option {
	return func(c *Config) { c.TotalBufferBudget = n }
}
func WithPerQueryBufferQuota(n uint) Option {
	return func(c *Config) { c.PerQueryBufferQuota = n }
}
func WithSinkRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.SinkRetryDelay = d }
}
func WithLeakTracking(enabled bool) Option {
	return func(c *Config) { c.EnableLeakTracking = enabled }
}

// WithLogger installs a structured logger (§ ambient stack); defaults to
// a discarding logger if never called.
func WithLogger(l *logging.Logger) Option { return func(c *Config) { c.logger = l } }

// WithJSONLogging is a convenience wrapper constructing a logger via
// internal/logging.New.
func WithJSONLogging(w io.Writer, level slog.Level) Option {
	return func(c *Config) { c.logger = logging.New(w, level) }
}
