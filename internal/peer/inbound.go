package peer

import (
	"fmt"

	"github.com/roach88/tether/internal/ledger"
	"github.com/roach88/tether/internal/message"
	"github.com/roach88/tether/internal/transport"
)

// receive runs every inbound message through the filter, in order:
//  1. drop ids already in the ledger (the same message via another channel)
//  2. drop context values older than the newest one received
//  3. record, then hand content to the handler (confirmations are not content)
//  4. reply to requests, acknowledge live notifications
//  5. finish the operation the message answers, if any
//
// Runs on the work queue. reply is nil unless the message arrived live.
func (c *Communicator) receive(m message.Message, reply transport.ReplyFunc) {
	if c.ledger.Contains(m.ID) {
		c.logger.Debug("dropping duplicate", "id", m.ID, "channel", m.Channel)
		c.acknowledge(m, reply)
		return
	}
	if ledger.IsContextValue(m) {
		if newest, ok := c.newestReceivedContext(); ok && newest.NewerThan(m) {
			c.logger.Debug("dropping stale context", "id", m.ID, "newer", newest.ID)
			c.acknowledge(m, reply)
			return
		}
	}

	c.ledger.Record(m, true)
	if ledger.IsContextValue(m) {
		c.received.Offer(m)
	}

	var answer *message.Message
	if !m.ConfirmationOnly() {
		answer = c.invokeHandler(m)
	}
	if m.IsRequest() {
		c.respond(m, answer, reply)
	} else {
		c.acknowledge(m, reply)
	}
	c.correlate(m)
}

func (c *Communicator) newestReceivedContext() (message.Message, bool) {
	cached, haveCached := c.received.Get()
	recorded, haveRecorded := c.ledger.LatestContext(true)
	switch {
	case haveCached && haveRecorded:
		if recorded.NewerThan(cached) {
			return recorded, true
		}
		return cached, true
	case haveRecorded:
		return recorded, true
	default:
		return cached, haveCached
	}
}

func (c *Communicator) invokeHandler(m message.Message) (answer *message.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "id", m.ID, "panic", fmt.Sprint(r))
			answer = nil
		}
	}()
	return h(m)
}

// respond answers an inbound request. A nil answer becomes the context value
// for context requests, otherwise a plain confirmation.
func (c *Communicator) respond(req message.Message, answer *message.Message, reply transport.ReplyFunc) {
	if answer == nil && req.Channel == message.ChannelContext {
		c.mu.RLock()
		accessor := c.accessor
		c.mu.RUnlock()
		if accessor != nil {
			v := accessor(&req.ID).Restamp(c.factory)
			v.Kind = message.ResponseTo(&req.ID)
			v.Channel = message.ChannelContext
			answer = &v
		}
	}
	if answer == nil {
		conf := c.factory.NewConfirmation(&req.ID, req.Channel)
		answer = &conf
	}

	// Files cannot travel over the live reply; acknowledge now and send the
	// file-bearing answer through the normal path.
	carriesFile := answer.Channel == message.ChannelFile && !answer.ConfirmationOnly()

	if reply == nil || carriesFile {
		if reply != nil {
			conf := c.factory.NewConfirmation(&req.ID, req.Channel)
			c.replyLive(conf, reply)
		}
		c.logger.Debug("sending reply as a new operation", "id", answer.ID, "request", req.ID)
		c.engine.Submit(*answer, nil)
		return
	}
	c.replyLive(*answer, reply)
}

// acknowledge answers a live non-request so the sender can finish early.
func (c *Communicator) acknowledge(m message.Message, reply transport.ReplyFunc) {
	if reply == nil || m.IsRequest() {
		return
	}
	c.replyLive(c.factory.NewConfirmation(&m.ID, m.Channel), reply)
}

func (c *Communicator) replyLive(answer message.Message, reply transport.ReplyFunc) {
	data, err := message.Encode(answer)
	if err != nil {
		c.logger.Error("encoding reply", "id", answer.ID, "error", err)
		return
	}
	c.ledger.Record(answer, false)
	if ledger.IsContextValue(answer) {
		c.tx.sent.Offer(answer)
	}
	reply(data)
}

// correlate finishes the pending operation m answers. A bare confirmation
// does not finish a FileTransfer request: the file itself is still coming.
func (c *Communicator) correlate(m message.Message) {
	requestID, ok := m.RequestID()
	if !ok {
		return
	}
	op, ok := c.engine.Pending(requestID)
	if !ok {
		return
	}
	if m.ConfirmationOnly() && op.ExpectsResponse() && op.Message().Channel == message.ChannelFile {
		c.logger.Debug("file request acknowledged, awaiting file", "id", requestID)
		return
	}
	c.engine.Complete(requestID, m)
}
