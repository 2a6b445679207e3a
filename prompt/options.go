package prompt

// Options contains configuration for the prompt builder
type Options struct {
	Instruction string // System instruction included in every prompt
}

// Option is a function type to modify Options
type Option func(*Options)

// WithInstruction overrides the default system instruction
func WithInstruction(instruction string) Option {
	return func(o *Options) {
		o.Instruction = instruction
	}
}

func defaultOptions() *Options {
	return &Options{
		Instruction: DefaultInstruction,
	}
}
