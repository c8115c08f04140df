package worker

import "github.com/sirupsen/logrus"

// DefaultMaxRestyles bounds how often a parse is redone because the style
// changed underneath it.
const DefaultMaxRestyles = 3

type options struct {
	log         logrus.FieldLogger
	fetcher     Fetcher
	maxRestyles int
}

func newOptions(opts []Option) options {
	o := options{
		log:         logrus.StandardLogger(),
		maxRestyles: DefaultMaxRestyles,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a worker source.
type Option func(*options)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithFetcher sets the fetcher used for requests without inline data.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithMaxRestyles sets how many times one parse may restart after a style change.
func WithMaxRestyles(n int) Option {
	return func(o *options) { o.maxRestyles = n }
}
