package replica

import "go.uber.org/zap"

// Option configures a Replica at construction time.
type Option func(*Replica)

// WithLogger attaches a structured logger used for debug/warn-level
// observability (malformed operations, tombstone suppression of late
// inserts). Replicas that don't want logging can omit this option; a
// no-op logger is used by default.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Replica) {
		if logger != nil {
			r.logger = logger
		}
	}
}
