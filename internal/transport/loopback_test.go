package transport

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Delegate that captures every callback.
type recorder struct {
	mu           sync.Mutex
	activations  []bool
	reachability []bool
	messages     [][]byte
	contexts     []map[string]any
	backgrounds  []map[string]any
	files        []ReceivedFile
	fileContents [][]byte
	bgDelivered  []string
	fileDone     map[string]error
	progress     int

	// answer, when set, replies to every inbound message.
	answer []byte
}

func newRecorder() *recorder {
	return &recorder{fileDone: make(map[string]error)}
}

func (r *recorder) OnActivationChanged(a bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activations = append(r.activations, a)
}

func (r *recorder) OnReachabilityChanged(up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reachability = append(r.reachability, up)
}

func (r *recorder) OnBackgroundDelivered(h TransferHandle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bgDelivered = append(r.bgDelivered, h.ID())
}

func (r *recorder) OnFileTransferDelivered(h TransferHandle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileDone[h.ID()] = err
}

func (r *recorder) OnFileTransferProgress(h TransferHandle, completed, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *recorder) OnInboundMessage(data []byte, reply ReplyFunc) {
	r.mu.Lock()
	r.messages = append(r.messages, data)
	answer := r.answer
	r.mu.Unlock()
	if answer != nil && reply != nil {
		reply(answer)
	}
}

func (r *recorder) OnInboundFile(f ReceivedFile) {
	data, _ := os.ReadFile(f.Path)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, f)
	r.fileContents = append(r.fileContents, data)
}

func (r *recorder) OnInboundContext(payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, payload)
}

func (r *recorder) OnInboundBackground(payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backgrounds = append(r.backgrounds, payload)
}

func (r *recorder) snapshot(fn func(r *recorder) bool) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return fn(r)
	}
}

func activePair(t *testing.T, opts ...LoopbackOption) (*Loopback, *Loopback, *recorder, *recorder) {
	t.Helper()
	a, b := NewPair("phone", "watch", opts...)
	ra, rb := newRecorder(), newRecorder()
	a.SetDelegate(ra)
	b.SetDelegate(rb)
	require.NoError(t, a.Activate())
	require.NoError(t, b.Activate())
	return a, b, ra, rb
}

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func TestLoopback_NotActivated(t *testing.T) {
	a, _ := NewPair("a", "b")
	assert.ErrorIs(t, a.SendWithReply([]byte("x"), nil), ErrNotActivated)
	assert.ErrorIs(t, a.ReplicateContext(map[string]any{}), ErrNotActivated)
	_, err := a.EnqueueBackground(map[string]any{})
	assert.ErrorIs(t, err, ErrNotActivated)
	assert.False(t, a.IsPeerReachable())
}

func TestLoopback_SendWithReply(t *testing.T) {
	a, _, _, rb := activePair(t)
	rb.answer = []byte("pong")

	replies := make(chan []byte, 1)
	err := a.SendWithReply([]byte("ping"), func(reply []byte, err error) {
		assert.NoError(t, err)
		replies <- reply
	})
	require.NoError(t, err)

	select {
	case r := <-replies:
		assert.Equal(t, "pong", string(r))
	case <-time.After(wait):
		t.Fatal("no reply")
	}
	assert.Eventually(t, rb.snapshot(func(r *recorder) bool { return len(r.messages) == 1 }), wait, tick)
}

func TestLoopback_SendWhileUnreachable(t *testing.T) {
	a, _, _, _ := activePair(t)
	a.SetReachable(false)
	assert.False(t, a.IsPeerReachable())
	assert.ErrorIs(t, a.SendWithReply([]byte("x"), nil), ErrNotReachable)
}

func TestLoopback_ContextLastValueWinsWhileUnreachable(t *testing.T) {
	a, b, _, rb := activePair(t)
	b.SetReachable(false)

	require.NoError(t, a.ReplicateContext(map[string]any{"v": 1}))
	require.NoError(t, a.ReplicateContext(map[string]any{"v": 2}))

	time.Sleep(20 * time.Millisecond)
	rb.mu.Lock()
	assert.Empty(t, rb.contexts, "nothing delivered while unreachable")
	rb.mu.Unlock()

	a.SetReachable(true)
	assert.Eventually(t, rb.snapshot(func(r *recorder) bool {
		return len(r.contexts) == 1 && r.contexts[0]["v"] == 2
	}), wait, tick)
}

func TestLoopback_BackgroundDelivery(t *testing.T) {
	a, _, ra, rb := activePair(t)

	h, err := a.EnqueueBackground(map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID())

	assert.Eventually(t, rb.snapshot(func(r *recorder) bool { return len(r.backgrounds) == 1 }), wait, tick)
	assert.Eventually(t, ra.snapshot(func(r *recorder) bool {
		return len(r.bgDelivered) == 1 && r.bgDelivered[0] == h.ID()
	}), wait, tick)
}

func TestLoopback_BackgroundUnsupported(t *testing.T) {
	a, _, _, _ := activePair(t, WithoutBackgroundQueue())
	_, err := a.EnqueueBackground(map[string]any{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLoopback_FileTransfer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.bin")
	content := make([]byte, 3*fileChunk+7)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(src, content, 0o644))

	a, _, ra, rb := activePair(t, WithFileDir(t.TempDir()))

	h, err := a.TransferFile(src, map[string]any{"messageId": "m-1"})
	require.NoError(t, err)

	assert.Eventually(t, ra.snapshot(func(r *recorder) bool {
		err, done := r.fileDone[h.ID()]
		return done && err == nil
	}), wait, tick)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	require.Len(t, rb.files, 1)
	assert.Equal(t, "m-1", rb.files[0].Metadata["messageId"])
	assert.Equal(t, content, rb.fileContents[0])
	_, statErr := os.Stat(rb.files[0].Path)
	assert.True(t, os.IsNotExist(statErr), "staged file is removed after the callback")

	ra.mu.Lock()
	assert.GreaterOrEqual(t, ra.progress, 4)
	ra.mu.Unlock()
}

func TestLoopback_FileTransferMissingSource(t *testing.T) {
	a, _, _, _ := activePair(t)
	_, err := a.TransferFile(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestLoopback_ReachabilityBroadcast(t *testing.T) {
	a, _, ra, rb := activePair(t)
	a.SetReachable(false)
	a.SetReachable(false)

	sawDown := func(r *recorder) bool {
		for _, up := range r.reachability {
			if !up {
				return true
			}
		}
		return false
	}
	assert.Eventually(t, ra.snapshot(sawDown), wait, tick)
	assert.Eventually(t, rb.snapshot(sawDown), wait, tick)
}

func TestLoopback_ActivationCallbacks(t *testing.T) {
	a, _, ra, _ := activePair(t)
	a.Deactivate()

	assert.Eventually(t, ra.snapshot(func(r *recorder) bool {
		return len(r.activations) == 2 && r.activations[0] != r.activations[1]
	}), wait, tick)
}
