package wmprof

import "github.com/sirupsen/logrus"

// Option configures Instrument. resolveOptions fills in every default before
// applying the options, so an empty options slice is always valid.
type Option func(*options)

type options struct {
	logger logrus.FieldLogger
}

// WithLogger threads a caller-supplied logger through Instrument's pipeline
// stages instead of the package default. The logger value is swapped
// wholesale and never mutated in place, so it is safe to share across
// concurrent, independent Instrument calls.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

func newDefaultLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	return log
}

func resolveOptions(opts []Option) *options {
	o := &options{logger: newDefaultLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
