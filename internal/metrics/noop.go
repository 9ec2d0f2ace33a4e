package metrics

import "time"

// NoopSink implements Sink with no-ops. Useful for tests and for wiring
// paths where metrics are disabled but a non-nil sink is simpler.
type NoopSink struct{}

// NewNoopSink creates a new no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (*NoopSink) RunStarted(trigger string)                                                 {}
func (*NoopSink) RunCompleted(status string, duration time.Duration, processed, errors int) {}
func (*NoopSink) RunSkipped()                                                               {}
func (*NoopSink) EnsureOutcome(automation, target, outcome string)                          {}
func (*NoopSink) RuleError(automation string)                                               {}

var _ Sink = (*NoopSink)(nil)
