package repl

import "github.com/armon/go-metrics"

// Replication metrics, emitted through go-metrics the same way serf emits
// gossip metrics from its ping delegate (SPEC_FULL.md §4). These are purely
// observational: spec.md's Non-goals exclude flow control, so nothing here
// ever feeds back into a throttling decision.
func incrCommandsPropagated(n int) {
	metrics.IncrCounter([]string{"repl", "commands_propagated"}, float32(n))
}

func incrBytesSent(followerAddr string, n int) {
	metrics.IncrCounterWithLabels([]string{"repl", "bytes_sent"}, float32(n),
		[]metrics.Label{{Name: "follower", Value: followerAddr}})
}

func setFollowerGauge(state FollowerState, count int) {
	metrics.SetGauge([]string{"repl", "followers", state.String()}, float32(count))
}

func setReplOffsetGauge(offset int64) {
	metrics.SetGauge([]string{"repl", "offset"}, float32(offset))
}
