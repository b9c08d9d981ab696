// Package config holds default tuning constants shared across the engine,
// store, and stream hub.
package config

import "time"

const (
	// DefaultRequestBudget is used when an endpoint or ad-hoc run request
	// specifies neither a request budget nor a duration.
	DefaultRequestBudget = 100

	// SnapshotSampleRate persists every Nth snapshot to the Run Store; the
	// rest go only to the Metric Stream.
	SnapshotSampleRate = 10

	// RPSWindow is the sliding window used for the current/peak RPS
	// estimator.
	RPSWindow = time.Second

	// DefaultChannelBufferSize sizes the engine's sample-emission channel.
	DefaultChannelBufferSize = 10000

	// DefaultHTTPServerAddr is the "server" CLI command's default bind
	// address.
	DefaultHTTPServerAddr = ":5000"
)
