// Package harness provides a conformance testing framework for the delivery
// engine.
//
// A scenario wires two real Communicators to an in-process Loopback pair,
// drives them through a list of steps (link flips, requests, notifications,
// file requests) and records a deterministic trace: every message id comes
// from a per-peer sequence generator, and timestamps and file paths are never
// traced. Traces are compared against golden files with RunWithGolden.
//
// Both peers answer inbound requests according to the scenario's responder,
// and serve file requests by writing the request payload to a file and
// sending it back as a file-bearing response.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ledger"
	"github.com/roach88/tether/internal/message"
	"github.com/roach88/tether/internal/peer"
	"github.com/roach88/tether/internal/transport"
)

const (
	stepTimeout  = 10 * time.Second
	pollInterval = 5 * time.Millisecond
	quietPolls   = 5
	quietPoll    = 20 * time.Millisecond
)

// node is one simulated device.
type node struct {
	name    string
	comm    *peer.Communicator
	link    *transport.Loopback
	factory *message.Factory
}

// pendingOp is an operation started with no_wait.
type pendingOp struct {
	step   int
	peer   string
	action string
	op     *engine.Operation
	expect *Expect
}

// Harness is the scenario execution engine.
type Harness struct {
	scenario *Scenario
	nodes    map[string]*node
	dir      string
	logger   *slog.Logger
	pending  []pendingOp

	mu       sync.Mutex
	received []ReceivedTrace
}

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	policy   engine.TimeoutPolicy
	observer ledger.Observer
	extra    []peer.Option
}

// WithLogger routes both communicators' logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithTimeoutPolicy sets the timeouts used when a scenario declares none.
func WithTimeoutPolicy(p engine.TimeoutPolicy) Option {
	return func(c *runConfig) {
		c.policy = p
	}
}

// WithPeerOptions adds options to both communicators. The harness's own
// logger, timeouts, id factory and file directory are applied after them.
func WithPeerOptions(opts ...peer.Option) Option {
	return func(c *runConfig) {
		c.extra = append(c.extra, opts...)
	}
}

// WithJournal mirrors both peers' ledger entries to o. Each message is
// outgoing on one peer and incoming on the other, so one journal can hold both.
func WithJournal(o ledger.Observer) Option {
	return func(c *runConfig) {
		c.observer = o
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh loopback pair with its own temporary
// directory for staged and received files.
//
// Execution flow:
//  1. Start both communicators and wait until they see each other
//  2. Execute steps in order, waiting for each completion unless no_wait
//  3. Await no_wait operations, then let in-flight deliveries settle
//  4. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		policy: engine.DefaultTimeoutPolicy(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "tether-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	policy := cfg.policy
	if scenario.Timeouts != nil {
		policy = scenario.Timeouts.WithDefaults()
	}

	h := &Harness{
		scenario: scenario,
		nodes:    make(map[string]*node, 2),
		dir:      dir,
		logger:   cfg.logger,
	}

	la, lb := transport.NewPair(PeerA, PeerB, transport.WithFileDir(dir))
	for _, n := range []*node{{name: PeerA, link: la}, {name: PeerB, link: lb}} {
		n.factory = &message.Factory{IDs: message.NewSequenceGenerator(n.name)}
		popts := append(slices.Clone(cfg.extra),
			peer.WithLogger(cfg.logger.With("peer", n.name)),
			peer.WithTimeoutPolicy(policy),
			peer.WithFactory(n.factory),
			peer.WithFileDir(filepath.Join(dir, "received-"+n.name)),
		)
		if cfg.observer != nil {
			popts = append(popts, peer.WithLedgerObserver(cfg.observer))
		}
		n.comm = peer.New(n.link, popts...)
		n.comm.SetMessageHandler(h.handler(n))
		h.nodes[n.name] = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, n := range h.nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.comm.Run(ctx); err != nil {
				h.logger.Error("communicator stopped", "peer", n.name, "error", err)
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	if err := h.waitReachable(true); err != nil {
		return nil, fmt.Errorf("peers never connected: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	for _, p := range h.pending {
		if err := h.complete(p, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", p.step, err)
		}
	}
	h.waitQuiet()

	result.Received = h.receivedSnapshot()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) executeStep(i int, step Step, result *Result) error {
	switch {
	case step.Reachable != nil:
		up := *step.Reachable
		h.nodes[PeerA].link.SetReachable(up)
		if err := h.waitReachable(up); err != nil {
			return err
		}
		result.AddReachabilityTrace(i, up)
		h.logger.Info("link changed", "step", i, "reachable", up)
		return nil

	case step.Request != nil:
		s := step.Request
		n := h.nodes[s.From]
		msg := n.factory.NewRequest(message.Channel(s.Channel), s.UserInfo, []byte(s.Payload))
		return h.send(i, n, ActionRequest, msg, step, result)

	case step.Notify != nil:
		s := step.Notify
		n := h.nodes[s.From]
		msg := n.factory.NewResponse(nil, message.Channel(s.Channel), s.UserInfo, []byte(s.Payload))
		return h.send(i, n, ActionNotify, msg, step, result)

	case step.FileRequest != nil:
		s := step.FileRequest
		n := h.nodes[s.From]
		msg := n.factory.NewRequest(message.ChannelFile, nil, []byte(s.Content))
		return h.send(i, n, ActionFileRequest, msg, step, result)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) send(i int, n *node, action string, msg message.Message, step Step, result *Result) error {
	// A callback is always installed so requests are legal; the result is
	// read from the operation itself.
	op := n.comm.SendRequest(msg, func(*message.Message, error) {})
	result.AddSendTrace(i, n.name, action, msg.ID, string(msg.Channel))
	h.logger.Info("message sent", "step", i, "peer", n.name, "action", action, "id", msg.ID)

	p := pendingOp{step: i, peer: n.name, action: action, op: op, expect: step.Expect}
	if step.NoWait {
		h.pending = append(h.pending, p)
		return nil
	}
	return h.complete(p, result)
}

// complete waits for p, traces its completion and checks its expect clause.
func (h *Harness) complete(p pendingOp, result *Result) error {
	select {
	case <-p.op.Done():
	case <-time.After(stepTimeout):
		return fmt.Errorf("operation %s did not complete within %s", p.op.ID(), stepTimeout)
	}

	reply, err := p.op.Result()
	outcome := OutcomeSuccess
	if err != nil {
		outcome = string(engine.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	ev := result.AddCompletionTrace(p.step, p.peer, p.action, p.op.ID(), outcome, traceReply(reply))

	if msg := checkExpect(p.expect, ev); msg != "" {
		result.AddError(fmt.Sprintf("step %d: %s", p.step, msg))
	}
	return nil
}

func traceReply(reply *message.Message) *ReplyTrace {
	if reply == nil {
		return nil
	}
	rt := &ReplyTrace{
		ID:           reply.ID,
		Kind:         reply.Kind.Token(),
		Payload:      string(reply.Payload),
		Confirmation: reply.ConfirmationOnly(),
	}
	if path, ok := reply.FilePath(); ok && reply.Channel == message.ChannelFile && !reply.ConfirmationOnly() {
		rt.File = true
		if data, err := os.ReadFile(path); err == nil {
			rt.Payload = string(data)
		}
	}
	return rt
}

// checkExpect returns a description of the mismatch, or "".
func checkExpect(want *Expect, got TraceEvent) string {
	if want == nil {
		return ""
	}
	if got.Outcome != want.Outcome {
		return fmt.Sprintf("outcome = %s, want %s", got.Outcome, want.Outcome)
	}
	if want.Reply != "" && (got.Reply == nil || got.Reply.Payload != want.Reply) {
		actual := "<no reply>"
		if got.Reply != nil {
			actual = fmt.Sprintf("%q", got.Reply.Payload)
		}
		return fmt.Sprintf("reply = %s, want %q", actual, want.Reply)
	}
	if want.File && (got.Reply == nil || !got.Reply.File) {
		return "reply carries no file"
	}
	return ""
}

// handler records every inbound message and answers requests.
func (h *Harness) handler(n *node) peer.MessageHandler {
	return func(m message.Message) *message.Message {
		h.record(n.name, m)

		if !m.IsRequest() {
			return nil
		}
		if m.Channel == message.ChannelFile {
			h.serveFile(n, m)
			return nil
		}
		if h.scenario.Responder == ResponderConfirm {
			return nil
		}
		resp := n.factory.NewResponse(&m.ID, m.Channel, nil, bytes.ToUpper(m.Payload))
		return &resp
	}
}

// serveFile answers a file request with a file holding the request payload.
// The response id is taken before the handler returns, so the automatic
// confirmation always gets the next id.
func (h *Harness) serveFile(n *node, req message.Message) {
	path := filepath.Join(h.dir, n.name+"-"+req.ID+".dat")
	if err := os.WriteFile(path, req.Payload, 0o600); err != nil {
		h.logger.Error("could not write served file", "peer", n.name, "error", err)
		return
	}
	resp := n.factory.NewResponse(&req.ID, message.ChannelFile, map[string]string{message.KeyFilePath: path}, nil)
	n.comm.SendNotification(resp)
}

func (h *Harness) record(peerName string, m message.Message) {
	info := maps.Clone(m.UserInfo)
	delete(info, message.KeyFilePath)
	if len(info) == 0 {
		info = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, ReceivedTrace{
		Peer:     peerName,
		ID:       m.ID,
		Kind:     m.Kind.Token(),
		Channel:  string(m.Channel),
		Payload:  string(m.Payload),
		UserInfo: info,
	})
}

func (h *Harness) receivedSnapshot() []ReceivedTrace {
	h.mu.Lock()
	out := append([]ReceivedTrace{}, h.received...)
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (h *Harness) waitReachable(up bool) error {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		if h.nodes[PeerA].comm.IsReachable() == up && h.nodes[PeerB].comm.IsReachable() == up {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("reachability did not become %v within %s", up, stepTimeout)
}

// waitQuiet returns once nothing has been recorded for several polls in a
// row. Deliveries flushed by a reconnect arrive with no operation to wait on.
func (h *Harness) waitQuiet() {
	deadline := time.Now().Add(stepTimeout)
	last, stable := -1, 0
	for time.Now().Before(deadline) {
		n := h.activity()
		if n == last {
			stable++
			if stable >= quietPolls {
				return
			}
		} else {
			last, stable = n, 0
		}
		time.Sleep(quietPoll)
	}
}

func (h *Harness) activity() int {
	h.mu.Lock()
	n := len(h.received)
	h.mu.Unlock()
	for _, nd := range h.nodes {
		n += len(nd.comm.History())
	}
	return n
}
