package message

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFactory(ids ...string) *Factory {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return &Factory{
		IDs: NewFixedGenerator(ids...),
		Now: func() time.Time { return at },
	}
}

func TestFactory_Constructors(t *testing.T) {
	f := fixedFactory("m-1", "m-2", "m-3", "m-4")

	req := f.NewRequest(ChannelLive, map[string]string{KeyContentType: "ping"}, []byte("P"))
	assert.Equal(t, "m-1", req.ID)
	assert.True(t, req.IsRequest())
	assert.Equal(t, ChannelLive, req.Channel)
	assert.Equal(t, "ping", req.ContentType())
	assert.False(t, req.ConfirmationOnly())

	resp := f.NewResponse(&req.ID, ChannelLive, nil, []byte("R"))
	id, ok := resp.RequestID()
	require.True(t, ok)
	assert.Equal(t, "m-1", id)

	note := f.NewResponse(nil, ChannelContext, nil, []byte("N"))
	assert.True(t, note.Kind.IsNotification())
	_, ok = note.RequestID()
	assert.False(t, ok)

	conf := f.NewConfirmation(&req.ID, ChannelFile)
	assert.True(t, conf.ConfirmationOnly())
	assert.Empty(t, conf.Payload)
	assert.Equal(t, ChannelFile, conf.Channel)
}

func TestFactory_CopiesInputs(t *testing.T) {
	f := fixedFactory("m-1")
	info := map[string]string{"k": "v"}
	payload := []byte("abc")

	m := f.NewRequest(ChannelLive, info, payload)
	info["k"] = "changed"
	payload[0] = 'X'

	assert.Equal(t, "v", m.UserInfo["k"])
	assert.Equal(t, []byte("abc"), m.Payload)
}

func TestFactory_NewError(t *testing.T) {
	f := fixedFactory("m-1")
	req := "r"
	m := f.NewError(&req, ChannelLive, errors.New("boom"))
	assert.True(t, m.IsError())
	assert.Equal(t, "boom", string(m.Payload))
}

func TestMessage_WithUserInfo_DoesNotMutate(t *testing.T) {
	f := fixedFactory("m-1")
	m := f.NewResponse(nil, ChannelFile, map[string]string{"a": "1"}, nil)

	withPath := m.WithUserInfo(KeyFilePath, "/tmp/x")
	p, ok := withPath.FilePath()
	require.True(t, ok)
	assert.Equal(t, "/tmp/x", p)

	_, ok = m.FilePath()
	assert.False(t, ok, "original must be untouched")
}

func TestFactory_NormalizesUserInfoValues(t *testing.T) {
	f := fixedFactory("m-1")
	m := f.NewRequest(ChannelLive, map[string]string{
		"name":      "cafe\u0301",
		"e\u0301":   "key kept",
		KeyFilePath: "/tmp/cafe\u0301.jpg",
	}, nil)

	assert.Equal(t, "caf\u00e9", m.UserInfo["name"])
	assert.Equal(t, "key kept", m.UserInfo["e\u0301"], "keys are not rewritten")
	assert.Equal(t, "/tmp/cafe\u0301.jpg", m.UserInfo[KeyFilePath], "paths stay byte-exact")

	m = m.WithUserInfo("note", "e\u0301")
	assert.Equal(t, "\u00e9", m.UserInfo["note"])
}

func TestMessage_Restamp(t *testing.T) {
	f := fixedFactory("m-1", "m-2")
	m := f.NewResponse(nil, ChannelContext, map[string]string{"a": "1"}, []byte("x"))

	r := m.Restamp(f)
	assert.Equal(t, "m-2", r.ID)
	assert.Equal(t, m.Kind, r.Kind)
	assert.Equal(t, m.Payload, r.Payload)
	assert.Equal(t, m.UserInfo, r.UserInfo)
}

func TestMessage_NewerThan(t *testing.T) {
	a := Message{ID: "a", Timestamp: time.Unix(10, 0)}
	b := Message{ID: "b", Timestamp: time.Unix(5, 0)}
	assert.True(t, a.NewerThan(b))
	assert.False(t, b.NewerThan(a))
	assert.False(t, a.NewerThan(a))
}

func TestDefaultFactory_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		m := NewRequest(ChannelLive, nil, nil)
		assert.False(t, seen[m.ID], "id %s generated twice", m.ID)
		seen[m.ID] = true
	}
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("phone")
	assert.Equal(t, "phone-1", g.Generate())
	assert.Equal(t, "phone-2", g.Generate())
}

func TestParseChannel(t *testing.T) {
	for _, c := range ValidChannels {
		got, err := ParseChannel(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseChannel("Carrier Pigeon")
	assert.Error(t, err)
}
