package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSnapshot_Stable(t *testing.T) {
	result := NewResult()
	result.AddReachabilityTrace(1, false)
	result.AddSendTrace(2, PeerA, ActionNotify, "a-1", "ContextReplication")
	result.Received = append(result.Received, ReceivedTrace{
		Peer:     PeerB,
		ID:       "a-1",
		Kind:     "Notification",
		Channel:  "ContextReplication",
		UserInfo: map[string]string{"z": "1", "a": "2"},
	})

	first, err := MarshalSnapshot(result.Snapshot("stable"))
	require.NoError(t, err)
	second, err := MarshalSnapshot(result.Snapshot("stable"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasSuffix(string(first), "}\n"))
	assert.Contains(t, string(first), `"reachable": false`)
	assert.Less(t, strings.Index(string(first), `"a": "2"`), strings.Index(string(first), `"z": "1"`),
		"map keys are sorted")
	assert.NotContains(t, string(first), "timestamp")
}

func TestMarshalSnapshot_EmptyReceived(t *testing.T) {
	data, err := MarshalSnapshot(NewResult().Snapshot("empty"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"received": []`)
	assert.Contains(t, string(data), `"trace": []`)
}
