package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind_Tokens(t *testing.T) {
	tests := []struct {
		token     string
		wantCase  KindCase
		wantReqID string
		hasReqID  bool
	}{
		{"Request", KindRequest, "", false},
		{"Notification", KindNotification, "", false},
		{"ResponseTo_abc", KindResponse, "abc", true},
		{"ResponseTo_0190-aa_bb", KindResponse, "0190-aa_bb", true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			k, err := ParseKind(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCase, k.Case)

			id, ok := k.Correlates()
			assert.Equal(t, tt.hasReqID, ok)
			assert.Equal(t, tt.wantReqID, id)

			assert.Equal(t, tt.token, k.Token(), "token must round-trip")
		})
	}
}

func TestParseKind_Unknown(t *testing.T) {
	for _, token := range []string{"", "request", "Response", "ResponseTo_", "Reply_abc"} {
		t.Run(token, func(t *testing.T) {
			_, err := ParseKind(token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnknownKind)
		})
	}
}

func TestResponseTo_NilIsNotification(t *testing.T) {
	assert.True(t, ResponseTo(nil).IsNotification())

	empty := ""
	assert.True(t, ResponseTo(&empty).IsNotification())

	id := "req-1"
	k := ResponseTo(&id)
	got, ok := k.Correlates()
	require.True(t, ok)
	assert.Equal(t, "req-1", got)
	assert.False(t, k.IsRequest())
}

func TestKind_JSONIsToken(t *testing.T) {
	id := "abc"
	data, err := json.Marshal(struct {
		K Kind `json:"k"`
	}{K: ResponseTo(&id)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"ResponseTo_abc"}`, string(data))

	var out struct {
		K Kind `json:"k"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"k":"Request"}`), &out))
	assert.True(t, out.K.IsRequest())

	err = json.Unmarshal([]byte(`{"k":"Bogus"}`), &out)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
