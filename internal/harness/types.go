package harness

// Trace event types.
const (
	EventReachability = "reachability"
	EventSend         = "send"
	EventCompletion   = "completion"
)

// Step actions.
const (
	ActionRequest     = "request"
	ActionNotify      = "notify"
	ActionFileRequest = "file_request"
)

// TraceEvent is one observable moment of a scenario run.
// Only deterministic values are recorded: ids come from per-peer sequence
// generators, timestamps and file paths are left out.
type TraceEvent struct {
	Step      int         `json:"step"`
	Type      string      `json:"type"`
	Peer      string      `json:"peer,omitempty"`
	Action    string      `json:"action,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Reachable *bool       `json:"reachable,omitempty"`
	Outcome   string      `json:"outcome,omitempty"`
	Reply     *ReplyTrace `json:"reply,omitempty"`
}

// ReplyTrace summarises the message an operation completed with.
type ReplyTrace struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Payload      string `json:"payload,omitempty"`
	Confirmation bool   `json:"confirmation,omitempty"`
	File         bool   `json:"file,omitempty"`
}

// ReceivedTrace is one message a peer's handler was given.
type ReceivedTrace struct {
	Peer     string            `json:"peer"`
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Channel  string            `json:"channel"`
	Payload  string            `json:"payload,omitempty"`
	UserInfo map[string]string `json:"user_info,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains reachability flips, sends and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Received lists what each handler saw, sorted by peer then id,
	// since arrival order across primitives is not deterministic.
	Received []ReceivedTrace `json:"received"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Received: []ReceivedTrace{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddReachabilityTrace records a link flip.
func (r *Result) AddReachabilityTrace(step int, reachable bool) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		Type:      EventReachability,
		Reachable: &reachable,
	})
}

// AddSendTrace records a submitted message.
func (r *Result) AddSendTrace(step int, peer, action, id, channel string) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		Type:      EventSend,
		Peer:      peer,
		Action:    action,
		MessageID: id,
		Channel:   channel,
	})
}

// AddCompletionTrace records a finished operation and returns the event.
func (r *Result) AddCompletionTrace(step int, peer, action, id, outcome string, reply *ReplyTrace) TraceEvent {
	ev := TraceEvent{
		Step:      step,
		Type:      EventCompletion,
		Peer:      peer,
		Action:    action,
		MessageID: id,
		Outcome:   outcome,
		Reply:     reply,
	}
	r.Trace = append(r.Trace, ev)
	return ev
}
