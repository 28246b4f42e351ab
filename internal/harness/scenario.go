package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/message"
)

// Peer names. Every scenario runs exactly two communicators.
const (
	PeerA = "a"
	PeerB = "b"
)

// Responder modes for inbound requests.
const (
	// ResponderEcho answers every request with its payload upper-cased.
	ResponderEcho = "echo"
	// ResponderConfirm answers with a bare confirmation.
	ResponderConfirm = "confirm"
)

// Scenario defines a conformance scenario: two peers joined by a loopback
// link, a sequence of steps, and checks on what was delivered.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Responder selects how both peers answer inbound requests.
	// Defaults to ResponderEcho. File requests are always served with a file.
	Responder string `yaml:"responder,omitempty"`

	// Timeouts overrides the engine timeouts. Zero fields keep defaults.
	Timeouts *engine.TimeoutPolicy `yaml:"timeouts,omitempty"`

	// Steps run in order. Each step does exactly one thing.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and what each peer received.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one of Reachable, Request, Notify or
// FileRequest is set.
type Step struct {
	// Reachable flips the link and waits until both peers noticed.
	Reachable *bool `yaml:"reachable,omitempty"`

	// Request sends a Request and records its completion.
	Request *SendStep `yaml:"request,omitempty"`

	// Notify sends a Notification and records its completion.
	Notify *SendStep `yaml:"notify,omitempty"`

	// FileRequest asks the other peer for a file holding Content.
	FileRequest *FileStep `yaml:"file_request,omitempty"`

	// NoWait leaves the operation running; it is awaited after the last step.
	NoWait bool `yaml:"no_wait,omitempty"`

	// Expect validates the completion. Ignored for reachability steps.
	Expect *Expect `yaml:"expect,omitempty"`
}

// SendStep describes an outgoing message.
type SendStep struct {
	From     string            `yaml:"from"`
	Channel  string            `yaml:"channel"`
	Payload  string            `yaml:"payload,omitempty"`
	UserInfo map[string]string `yaml:"user_info,omitempty"`
}

// FileStep describes a file request.
type FileStep struct {
	From    string `yaml:"from"`
	Content string `yaml:"content"`
}

// Expect specifies the expected completion.
type Expect struct {
	// Outcome is "success" or a delivery error code such as
	// TOOK_TOO_LONG_TO_RESPOND.
	Outcome string `yaml:"outcome"`

	// Reply is the expected reply payload (file content for file requests).
	Reply string `yaml:"reply,omitempty"`

	// File requires the reply to carry a received file.
	File bool `yaml:"file,omitempty"`
}

// Assertion validates the result after every step ran.
type Assertion struct {
	// Type specifies the assertion type:
	// - "received_count": Peer's handler saw exactly Count messages
	// - "received_contains": Peer's handler saw a matching message
	// - "outcome_count": exactly Count completions ended with Outcome
	Type string `yaml:"type"`

	Peer    string `yaml:"peer,omitempty"`
	Channel string `yaml:"channel,omitempty"`
	Kind    string `yaml:"kind,omitempty"`
	Payload string `yaml:"payload,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertReceivedCount    = "received_count"
	AssertReceivedContains = "received_contains"
	AssertOutcomeCount     = "outcome_count"
)

// OutcomeSuccess is the outcome of an operation that finished without error.
const OutcomeSuccess = "success"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Responder {
	case "", ResponderEcho, ResponderConfirm:
	default:
		return fmt.Errorf("responder %q: must be %q or %q", s.Responder, ResponderEcho, ResponderConfirm)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Reachable != nil {
		set++
	}
	if step.Request != nil {
		set++
		if err := validateSend(step.Request); err != nil {
			return fmt.Errorf("request: %w", err)
		}
	}
	if step.Notify != nil {
		set++
		if err := validateSend(step.Notify); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	if step.FileRequest != nil {
		set++
		if err := validatePeer(step.FileRequest.From); err != nil {
			return fmt.Errorf("file_request: %w", err)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of reachable, request, notify, file_request is required (got %d)", set)
	}
	if step.Expect != nil && step.Expect.Outcome == "" {
		return fmt.Errorf("expect: outcome is required")
	}
	return nil
}

func validateSend(s *SendStep) error {
	if err := validatePeer(s.From); err != nil {
		return err
	}
	if _, err := message.ParseChannel(s.Channel); err != nil {
		return err
	}
	return nil
}

func validatePeer(name string) error {
	if name != PeerA && name != PeerB {
		return fmt.Errorf("from %q: must be %q or %q", name, PeerA, PeerB)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertReceivedCount, AssertReceivedContains:
		return validatePeer(a.Peer)
	case AssertOutcomeCount:
		if a.Outcome == "" {
			return fmt.Errorf("outcome_count requires outcome")
		}
		return nil
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}
