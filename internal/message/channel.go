package message

import "fmt"

// Channel is the caller's preferred delivery primitive for a message.
// The primitive actually used may differ when the live channel is unavailable.
type Channel string

const (
	// ChannelContext replicates a single current value per direction (last value wins).
	ChannelContext Channel = "ContextReplication"
	// ChannelBackground queues a payload for best-effort delivery.
	ChannelBackground Channel = "BackgroundQueue"
	// ChannelLive sends directly with an asynchronous reply.
	ChannelLive Channel = "LiveMessage"
	// ChannelFile transfers a file referenced by the message's local path.
	ChannelFile Channel = "FileTransfer"
)

// ValidChannels lists every channel in declaration order.
var ValidChannels = []Channel{ChannelContext, ChannelBackground, ChannelLive, ChannelFile}

// ParseChannel converts a wire string to a Channel.
func ParseChannel(s string) (Channel, error) {
	for _, c := range ValidChannels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// String implements fmt.Stringer.
func (c Channel) String() string {
	return string(c)
}
