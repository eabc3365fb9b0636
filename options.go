package rtree

type options struct {
	policy InsertionPolicy
	logger *Logger
}

// Option configures index construction, bulk loading and stream access.
type Option func(*options)

// WithInsertionPolicy sets the node size bounds used for inserts, splits and
// bulk loading.
func WithInsertionPolicy(p InsertionPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

func applyOptions(opts []Option) options {
	o := options{
		policy: DefaultInsertionPolicy,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
