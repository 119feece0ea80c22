package dispatch

import (
	"log"
	"time"
)

type options struct {
	Logger    *log.Logger
	Workers   int
	QueueSize int
	Timeout   time.Duration
	QueueKey  string
	DeadKey   string
	PollWait  time.Duration
}

// Option configures a dispatcher.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:    log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		Workers:   4,
		QueueSize: 256,
		Timeout:   5 * time.Minute,
		QueueKey:  "ticketforge:tasks",
		DeadKey:   "ticketforge:tasks:dead",
		PollWait:  5 * time.Second,
	}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithQueueSize sets the in-process buffer size.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithTaskTimeout bounds each task run.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithQueueKey sets the Redis list names used for the queue and dead letters.
func WithQueueKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.QueueKey = key
			o.DeadKey = key + ":dead"
		}
	}
}

// WithPollWait sets how long a Redis worker blocks waiting for a task.
func WithPollWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.PollWait = d
		}
	}
}
