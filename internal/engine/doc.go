// Package engine implements the per-message operation lifecycle.
//
// Every outbound message becomes an Operation. Operations are initiated
// strictly one at a time, in enqueue order, on a single-concurrency work
// queue (Dispatcher). Completion is not serialized by that order: replies,
// transfer callbacks and timers rejoin the queue whenever they happen.
//
// ARCHITECTURE:
//
// Single-Writer Work Queue:
// All Operation execution and all mutation of engine state (pending
// operations, transfer registry) happen on one goroutine. Transport callbacks
// and timers never touch that state directly; they post a task instead.
//
// Operation Lifecycle:
//  1. Submit() enqueues the operation
//  2. The work queue dequeues it: Created -> Executing, stamped with its
//     initiation seq
//  3. A timeout timer is armed, an optional Quota admits or refuses the
//     operation, then the Transmitter is called
//  4. Finish happens exactly once: correlated reply, transfer callback,
//     timeout, notification grace period, cancellation or quota refusal
//  5. The completion callback runs on a separate notification dispatcher
//
// No task ever blocks on the transport. Transmission is fire-and-forget from
// the queue's point of view; results come back as new tasks.
package engine
