package workflow

import "time"

// Options configures an Engine. Use New with functional Options rather
// than constructing Options directly, mirroring the teacher engine's
// EngineOption pattern.
type Options struct {
	MaxSteps int

	HeartbeatInterval time.Duration
	RecoveryInterval  time.Duration
	StaleThreshold    time.Duration

	MCPConnectTimeout time.Duration
	MCPReadTimeout    time.Duration

	PlanMaxSteps   int
	PlanMaxReplans int

	ForkJoinTimeout time.Duration

	// MaxOutputBytes bounds agent/LLM text output before it is written to
	// context (spec.md §9); 0 means DefaultMaxOutputBytes.
	MaxOutputBytes int

	// MaxConcurrentBranches bounds the per-workflow concurrency pool a
	// Parallel node's branches run on (spec.md §4.7); 0 means unbounded.
	MaxConcurrentBranches int
}

// defaultOptions mirrors the "Config values" table in spec.md §6 exactly;
// these literals are part of the spec and must not drift silently.
func defaultOptions() Options {
	return Options{
		MaxSteps:              10000,
		HeartbeatInterval:     30 * time.Second,
		RecoveryInterval:      60 * time.Second,
		StaleThreshold:        90 * time.Second,
		MCPConnectTimeout:     30 * time.Second,
		MCPReadTimeout:        60 * time.Second,
		PlanMaxSteps:          10,
		PlanMaxReplans:        3,
		ForkJoinTimeout:       5 * time.Minute,
		MaxOutputBytes:        DefaultMaxOutputBytes,
		MaxConcurrentBranches: 8,
	}
}

// Option mutates Options during Engine construction.
type Option func(*Options)

func WithMaxSteps(n int) Option { return func(o *Options) { o.MaxSteps = n } }

func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *Options) { o.HeartbeatInterval = d }
}

func WithRecoveryInterval(d time.Duration) Option {
	return func(o *Options) { o.RecoveryInterval = d }
}

func WithStaleThreshold(d time.Duration) Option {
	return func(o *Options) { o.StaleThreshold = d }
}

func WithMCPTimeouts(connect, read time.Duration) Option {
	return func(o *Options) { o.MCPConnectTimeout = connect; o.MCPReadTimeout = read }
}

func WithPlanLimits(maxSteps, maxReplans int) Option {
	return func(o *Options) { o.PlanMaxSteps = maxSteps; o.PlanMaxReplans = maxReplans }
}

func WithForkJoinTimeout(d time.Duration) Option {
	return func(o *Options) { o.ForkJoinTimeout = d }
}

func WithMaxOutputBytes(n int) Option {
	return func(o *Options) { o.MaxOutputBytes = n }
}

func WithMaxConcurrentBranches(n int) Option {
	return func(o *Options) { o.MaxConcurrentBranches = n }
}
