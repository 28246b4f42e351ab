// Package peer is the application-facing side of the delivery engine.
//
// A Communicator owns one transport session. Applications submit messages
// with SendRequest or SendNotification and receive inbound messages through
// a MessageHandler. The Transmitter picks a transport primitive per message:
// live when the peer is reachable, the background queue or context
// replication when it is not, and a file transfer for file-bearing responses.
//
// Inbound messages arrive on several primitives at once and may repeat.
// Every one passes the same filter: duplicates by id are dropped, context
// values never move backwards in time, and confirmations finish the
// operation they answer without reaching the handler.
package peer
