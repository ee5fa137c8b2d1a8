package routeros

import (
	"time"
)

// ErrorAction defines the action to take when the reader meets an anomaly.
type ErrorAction int

const (
	// Disconnect closes the connection when an anomaly occurs.
	Disconnect ErrorAction = iota
	// Continue ignores the anomaly and keeps reading.
	Continue
)

// options holds the configuration for a client.
type options struct {
	logger  Logger
	metrics *Metrics

	// onError is called for tolerated anomalies in received data.
	// Returns Disconnect to close the connection, Continue to ignore it.
	onError func(error) ErrorAction

	bufferSize      int           // size of the outgoing queue
	maxWordSize     int           // largest accepted word
	maxSentenceSize int64         // largest accepted sentence
	writeTimeout    time.Duration // write deadline, when the transport supports one
	untagged        bool          // send requests without a tag untagged
}

// Option is a function that configures client options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the outgoing queue.
// A larger buffer lets more callers enqueue before blocking.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// WordMaxSize returns an Option that sets the largest word accepted from the device.
func WordMaxSize(size int) Option {
	return func(o *options) {
		o.maxWordSize = size
	}
}

// SentenceMaxSize returns an Option that sets the largest sentence accepted from the device.
func SentenceMaxSize(size int64) Option {
	return func(o *options) {
		o.maxSentenceSize = size
	}
}

// WriteTimeoutOption returns an Option that sets the deadline of each write.
// It only applies to transports with a SetWriteDeadline method.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// MultiplexOption returns an Option that controls tag synthesis. When
// disabled, requests without a tag are sent untagged and at most one of them
// may be outstanding.
func MultiplexOption(enabled bool) Option {
	return func(o *options) {
		o.untagged = !enabled
	}
}

// OnErrorOption returns an Option that sets the anomaly callback.
// Return Disconnect to close the connection, or Continue to ignore the anomaly.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption sets the client logger; slog.Default() when unset.
// NewZerologLogger adapts a zerolog.Logger.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that records client statistics in m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
