package bundle

import "log/slog"

// Option configures a SwitchingBundle during creation.
//
// Example:
//
//	b, err := bundle.New(factory, props,
//	    bundle.WithName("surface-7"),
//	    bundle.WithLogger(logger),
//	)
type Option func(*bundleOptions)

// bundleOptions holds optional configuration for bundle creation.
type bundleOptions struct {
	logger *slog.Logger
	name   string
}

// WithLogger sets the logger for one bundle, overriding the package
// logger installed with SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *bundleOptions) {
		o.logger = l
	}
}

// WithName names the surface the bundle belongs to. The name is attached
// to every log record as the "surface" attribute.
func WithName(name string) Option {
	return func(o *bundleOptions) {
		o.name = name
	}
}

// log returns the configured logger with the surface attribute applied.
func (o bundleOptions) log() *slog.Logger {
	l := o.logger
	if l == nil {
		l = Logger()
	}
	if o.name != "" {
		l = l.With("surface", o.name)
	}
	return l
}
