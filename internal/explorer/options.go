package explorer

import (
	"time"

	"github.com/fruitsalade/blobtext/internal/events"
)

// Option configures an Explorer.
type Option func(*Explorer)

// WithPublisher sends state-change events to p.
func WithPublisher(p events.Publisher) Option {
	return func(e *Explorer) { e.publisher = p }
}

// WithPruneStale makes a successful edit delete the raw object it replaced.
func WithPruneStale(enabled bool) Option {
	return func(e *Explorer) { e.pruneStale = enabled }
}

// WithClock overrides the time source used for optimistic entries.
func WithClock(now func() time.Time) Option {
	return func(e *Explorer) { e.now = now }
}
