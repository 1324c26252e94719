package pump

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/logging"
	"github.com/baldanca/queue-pump/queue"
	"github.com/baldanca/queue-pump/retry"
)

// Factory holds the dependencies shared by every pump it builds: the
// transport client, logging, metrics and the poison-message archive.
type Factory struct {
	client   queue.Client
	logger   logrus.FieldLogger
	observer Observer
	ackRetry retry.Policy
	archiver PoisonArchiver
}

type Option func(*Factory)

func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(f *Factory) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithAckRetry sets the policy used for delete calls. The default makes up
// to three attempts with a short exponential backoff and gives up at once on
// errors queue.IsPermanent reports.
func WithAckRetry(p retry.Policy) Option {
	return func(f *Factory) {
		if p != nil {
			f.ackRetry = p
		}
	}
}

// WithArchiver stores poison messages before they are deleted.
func WithArchiver(a PoisonArchiver) Option {
	return func(f *Factory) { f.archiver = a }
}

// NewFactory panics when client is nil.
func NewFactory(client queue.Client, opts ...Option) *Factory {
	if client == nil {
		panic("pump: nil queue client")
	}

	f := &Factory{
		client:   client,
		logger:   logging.Discard(),
		observer: nopObserver{},
		ackRetry: retry.Exponential{
			Attempts:  3,
			BaseDelay: 100 * time.Millisecond,
			MaxDelay:  time.Second,
			Jitter:    true,
			Retryable: func(err error) bool { return !queue.IsPermanent(err) },
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Client returns the transport the factory was built with.
func (f *Factory) Client() queue.Client { return f.client }

// New validates cfg, resolves the queue URL and returns a ready pump.
// Every failure is a *ConfigurationError.
func New[T any](ctx context.Context, f *Factory, cfg Config, c codec.Codec[T]) (*Pump[T], error) {
	if f == nil {
		return nil, &ConfigurationError{Field: "Factory", Err: errors.New("nil factory")}
	}
	if c == nil {
		return nil, &ConfigurationError{Field: "Codec", Err: errors.New("nil codec")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	url, err := f.client.ResolveURL(ctx, cfg.Queue)
	if err != nil {
		return nil, &ConfigurationError{Field: "Queue", Err: err}
	}

	f.logger.WithFields(logrus.Fields{
		"queue":           cfg.Queue,
		"queue_url":       url,
		"max_messages":    cfg.MaxMessages,
		"max_concurrency": cfg.MaxConcurrency,
		"decode_failure":  cfg.DecodeFailure.String(),
	}).Info("pump ready")

	return &Pump[T]{
		cfg:      cfg,
		queueURL: url,
		client:   f.client,
		codec:    c,
		gate:     newGate(cfg.MaxConcurrency),
		logger:   f.logger,
		observer: f.observer,
		ackRetry: f.ackRetry,
		archiver: f.archiver,
	}, nil
}
