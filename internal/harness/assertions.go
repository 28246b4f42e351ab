package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Received []ReceivedTrace // Everything handed to handlers, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Received) > 0 {
		fmt.Fprintf(&buf, "\nReceived:\n")
		for i, r := range e.Received {
			fmt.Fprintf(&buf, "  [%d] %s <- %s %s %s\n", i+1, r.Peer, r.ID, r.Kind, r.Channel)
		}
	}

	return buf.String()
}

// matchReceived reports whether r satisfies the non-empty fields of a.
func matchReceived(r ReceivedTrace, a Assertion) bool {
	if r.Peer != a.Peer {
		return false
	}
	if a.Channel != "" && r.Channel != a.Channel {
		return false
	}
	if a.Kind != "" && r.Kind != a.Kind {
		return false
	}
	if a.Payload != "" && r.Payload != a.Payload {
		return false
	}
	return true
}

// assertReceivedCount checks how many messages the peer's handler saw,
// optionally filtered by channel, kind and payload.
func assertReceivedCount(received []ReceivedTrace, a Assertion) error {
	count := 0
	for _, r := range received {
		if matchReceived(r, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertReceivedCount,
			Expected: fmt.Sprintf("%d messages received by %s", a.Count, a.Peer),
			Actual:   fmt.Sprintf("%d messages", count),
			Received: received,
		}
	}
	return nil
}

// assertReceivedContains checks that at least one received message matches.
func assertReceivedContains(received []ReceivedTrace, a Assertion) error {
	for _, r := range received {
		if matchReceived(r, a) {
			return nil
		}
	}
	return &AssertionError{
		Type: AssertReceivedContains,
		Expected: fmt.Sprintf("%s received channel=%q kind=%q payload=%q",
			a.Peer, a.Channel, a.Kind, a.Payload),
		Actual:   "not found",
		Received: received,
	}
}

// assertOutcomeCount checks how many completions ended with the outcome.
func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == EventCompletion && ev.Outcome == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d completions with outcome %s", a.Count, a.Outcome),
			Actual:   fmt.Sprintf("%d completions", count),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertReceivedCount:
			err = assertReceivedCount(result.Received, assertion)
		case AssertReceivedContains:
			err = assertReceivedContains(result.Received, assertion)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
