package harness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ledger"
)

func boolPtr(b bool) *bool { return &b }

func TestRun_EchoRequest(t *testing.T) {
	scenario := &Scenario{
		Name:        "echo",
		Description: "one live request",
		Steps: []Step{
			{
				Request: &SendStep{From: PeerA, Channel: "LiveMessage", Payload: "abc"},
				Expect:  &Expect{Outcome: OutcomeSuccess, Reply: "ABC"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertReceivedCount, Peer: PeerB, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, EventSend, result.Trace[0].Type)
	assert.Equal(t, "a-1", result.Trace[0].MessageID)

	done := result.Trace[1]
	assert.Equal(t, EventCompletion, done.Type)
	require.NotNil(t, done.Reply)
	assert.Equal(t, "b-1", done.Reply.ID)
	assert.Equal(t, "ResponseTo_a-1", done.Reply.Kind)
}

func TestRun_ConfirmResponder(t *testing.T) {
	scenario := &Scenario{
		Name:        "confirm",
		Description: "requests answered by confirmation",
		Responder:   ResponderConfirm,
		Steps: []Step{
			{
				Request: &SendStep{From: PeerB, Channel: "LiveMessage", Payload: "abc"},
				Expect:  &Expect{Outcome: OutcomeSuccess},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	reply := result.Trace[1].Reply
	require.NotNil(t, reply)
	assert.True(t, reply.Confirmation)
	assert.Empty(t, reply.Payload)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "expect clause does not hold",
		Steps: []Step{
			{
				Request: &SendStep{From: PeerA, Channel: "LiveMessage", Payload: "abc"},
				Expect:  &Expect{Outcome: OutcomeSuccess, Reply: "abc"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1")
}

func TestRun_FailingAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "assertion does not hold",
		Steps: []Step{
			{Notify: &SendStep{From: PeerA, Channel: "LiveMessage", Payload: "x"}},
		},
		Assertions: []Assertion{
			{Type: AssertReceivedCount, Peer: PeerA, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.NotEmpty(t, result.Errors)
}

func TestRun_NoWaitIsAwaitedAtEnd(t *testing.T) {
	scenario := &Scenario{
		Name:        "no_wait",
		Description: "queued request completes after the link returns",
		Steps: []Step{
			{Reachable: boolPtr(false)},
			{
				Request: &SendStep{From: PeerA, Channel: "BackgroundQueue", Payload: "later"},
				NoWait:  true,
				Expect:  &Expect{Outcome: OutcomeSuccess, Reply: "LATER"},
			},
			{Reachable: boolPtr(true)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	types := make([]string, 0, len(result.Trace))
	for _, ev := range result.Trace {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventReachability, EventSend, EventReachability, EventCompletion}, types)
}

func TestRun_TimeoutOverride(t *testing.T) {
	scenario := &Scenario{
		Name:        "timeout",
		Description: "unreachable request times out",
		Timeouts:    &engine.TimeoutPolicy{Unreachable: 100 * time.Millisecond},
		Steps: []Step{
			{Reachable: boolPtr(false)},
			{
				Request: &SendStep{From: PeerA, Channel: "LiveMessage", Payload: "x"},
				Expect:  &Expect{Outcome: string(engine.ErrCodeTimeout)},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Received)
}

func TestRun_JournalSeesBothPeers(t *testing.T) {
	var (
		mu      sync.Mutex
		entries []ledger.Entry
	)
	journal := func(e ledger.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	scenario := &Scenario{
		Name:        "journal",
		Description: "ledger entries are mirrored",
		Steps: []Step{
			{
				Request: &SendStep{From: PeerA, Channel: "LiveMessage", Payload: "abc"},
				Expect:  &Expect{Outcome: OutcomeSuccess},
			},
		},
	}

	result, err := Run(scenario, WithJournal(journal), WithTimeoutPolicy(engine.DefaultTimeoutPolicy()))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[string]bool)
	for _, e := range entries {
		dir := "out"
		if e.Incoming {
			dir = "in"
		}
		seen[e.Message.ID+"/"+dir] = true
	}
	// a-1 leaves a and reaches b; the echo b-1 goes the other way.
	for _, key := range []string{"a-1/out", "a-1/in", "b-1/out", "b-1/in"} {
		assert.True(t, seen[key], "missing journal entry %s", key)
	}
}
