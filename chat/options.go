package chat

import "time"

// Options contains configuration for the completion service
type Options struct {
	Instruction   string        // System instruction, empty means the builder default
	HistoryWindow int           // Prior exchanges considered per completion
	MaxAttempts   int           // Total attempts per provider call
	BackoffStep   time.Duration // Sleep between attempts is attempt * BackoffStep
	StreamBuffer  int           // Capacity of the caller-facing chunk channel
}

// Option is a function type to modify Options
type Option func(*Options)

// WithInstruction overrides the system instruction used in prompts
func WithInstruction(instruction string) Option {
	return func(o *Options) {
		o.Instruction = instruction
	}
}

// WithHistoryWindow sets how many prior exchanges are considered
func WithHistoryWindow(window int) Option {
	return func(o *Options) {
		o.HistoryWindow = window
	}
}

// WithMaxAttempts sets the total attempts for a provider call
func WithMaxAttempts(attempts int) Option {
	return func(o *Options) {
		o.MaxAttempts = attempts
	}
}

// WithRetryBackoff sets the backoff step between attempts
func WithRetryBackoff(step time.Duration) Option {
	return func(o *Options) {
		o.BackoffStep = step
	}
}

// WithStreamBuffer sets the buffer size of the outgoing chunk channel
func WithStreamBuffer(size int) Option {
	return func(o *Options) {
		o.StreamBuffer = size
	}
}

// DefaultOptions returns the default options
func DefaultOptions() *Options {
	return &Options{
		HistoryWindow: 5,
		MaxAttempts:   4,
		BackoffStep:   3 * time.Second,
		StreamBuffer:  8,
	}
}
