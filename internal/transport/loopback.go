package transport

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// fileChunk is the copy granularity used to report transfer progress.
const fileChunk = 32 * 1024

// link is the shared medium between two Loopback endpoints.
type link struct {
	mu        sync.Mutex
	reachable bool
	ends      [2]*Loopback
}

// Loopback is an in-process Transport endpoint connected to exactly one peer.
//
// Delivery happens on fresh goroutines, so callbacks arrive asynchronously
// and without ordering across primitives. Context values, background payloads
// and files sent while the peer is unreachable are held and flushed when
// reachability returns; context keeps only the latest value.
type Loopback struct {
	name string
	link *link
	side int

	latency      time.Duration
	noBackground bool
	fileDir      string

	mu          sync.Mutex
	delegate    Delegate
	activated   bool
	pendingCtx  map[string]any
	pendingBg   []*handle
	pendingFile []*fileJob

	nextHandle atomic.Int64
}

// LoopbackOption configures both endpoints of a pair.
type LoopbackOption func(*Loopback)

// WithLatency delays every delivery by d.
func WithLatency(d time.Duration) LoopbackOption {
	return func(l *Loopback) {
		l.latency = d
	}
}

// WithoutBackgroundQueue makes EnqueueBackground fail with ErrUnsupported,
// as some simulated environments do.
func WithoutBackgroundQueue() LoopbackOption {
	return func(l *Loopback) {
		l.noBackground = true
	}
}

// WithFileDir sets where received files are staged before the delegate
// relocates them. Defaults to os.TempDir().
func WithFileDir(dir string) LoopbackOption {
	return func(l *Loopback) {
		l.fileDir = dir
	}
}

// NewPair returns two connected endpoints, initially reachable but not activated.
func NewPair(nameA, nameB string, opts ...LoopbackOption) (*Loopback, *Loopback) {
	lk := &link{reachable: true}
	a := &Loopback{name: nameA, link: lk, side: 0, fileDir: os.TempDir()}
	b := &Loopback{name: nameB, link: lk, side: 1, fileDir: os.TempDir()}
	for _, opt := range opts {
		opt(a)
		opt(b)
	}
	lk.ends = [2]*Loopback{a, b}
	return a, b
}

// Name identifies the endpoint in logs.
func (l *Loopback) Name() string {
	return l.name
}

func (l *Loopback) peer() *Loopback {
	return l.link.ends[1-l.side]
}

// SetDelegate implements Transport.
func (l *Loopback) SetDelegate(d Delegate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delegate = d
}

func (l *Loopback) getDelegate() Delegate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delegate
}

func (l *Loopback) isActivated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activated
}

// Activate implements Transport. Activating an active session is a no-op.
func (l *Loopback) Activate() error {
	l.mu.Lock()
	if l.activated {
		l.mu.Unlock()
		return nil
	}
	l.activated = true
	l.mu.Unlock()

	l.async(func(d Delegate) { d.OnActivationChanged(true) })
	l.link.broadcastReachability()
	l.flush()
	l.peer().flush()
	return nil
}

// Deactivate ends the session; OnActivationChanged(false) follows.
func (l *Loopback) Deactivate() {
	l.mu.Lock()
	if !l.activated {
		l.mu.Unlock()
		return
	}
	l.activated = false
	l.mu.Unlock()

	l.async(func(d Delegate) { d.OnActivationChanged(false) })
	l.link.broadcastReachability()
}

// SetReachable toggles the link for both endpoints. Idempotent.
func (l *Loopback) SetReachable(reachable bool) {
	l.link.mu.Lock()
	changed := l.link.reachable != reachable
	l.link.reachable = reachable
	l.link.mu.Unlock()

	if !changed {
		return
	}
	l.link.broadcastReachability()
	if reachable {
		l.flush()
		l.peer().flush()
	}
}

func (lk *link) broadcastReachability() {
	for _, end := range lk.ends {
		reachable := end.IsPeerReachable()
		end.async(func(d Delegate) { d.OnReachabilityChanged(reachable) })
	}
}

// IsPeerReachable implements Transport.
func (l *Loopback) IsPeerReachable() bool {
	l.link.mu.Lock()
	up := l.link.reachable
	l.link.mu.Unlock()
	return up && l.isActivated() && l.peer().isActivated()
}

// async runs fn against this endpoint's delegate on a new goroutine.
func (l *Loopback) async(fn func(Delegate)) {
	go func() {
		if l.latency > 0 {
			time.Sleep(l.latency)
		}
		if d := l.getDelegate(); d != nil {
			fn(d)
		}
	}()
}

// SendWithReply implements Transport.
func (l *Loopback) SendWithReply(data []byte, onReply func([]byte, error)) error {
	if !l.isActivated() {
		return ErrNotActivated
	}
	if !l.IsPeerReachable() {
		return ErrNotReachable
	}

	payload := append([]byte(nil), data...)
	var once sync.Once
	reply := func(r []byte) {
		once.Do(func() {
			out := append([]byte(nil), r...)
			go func() {
				if l.latency > 0 {
					time.Sleep(l.latency)
				}
				if onReply != nil {
					onReply(out, nil)
				}
			}()
		})
	}
	l.peer().async(func(d Delegate) { d.OnInboundMessage(payload, reply) })
	return nil
}

// ReplicateContext implements Transport.
func (l *Loopback) ReplicateContext(payload map[string]any) error {
	if !l.isActivated() {
		return ErrNotActivated
	}
	l.mu.Lock()
	l.pendingCtx = maps.Clone(payload)
	l.mu.Unlock()
	l.flush()
	return nil
}

// EnqueueBackground implements Transport.
func (l *Loopback) EnqueueBackground(payload map[string]any) (TransferHandle, error) {
	if !l.isActivated() {
		return nil, ErrNotActivated
	}
	if l.noBackground {
		return nil, ErrUnsupported
	}
	h := l.newHandle("bg", payload)
	l.mu.Lock()
	l.pendingBg = append(l.pendingBg, h)
	l.mu.Unlock()
	l.flush()
	return h, nil
}

type fileJob struct {
	h    *handle
	path string
}

// TransferFile implements Transport.
func (l *Loopback) TransferFile(path string, metadata map[string]any) (TransferHandle, error) {
	if !l.isActivated() {
		return nil, ErrNotActivated
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("transfer file: %w", err)
	}
	h := l.newHandle("file", metadata)
	l.mu.Lock()
	l.pendingFile = append(l.pendingFile, &fileJob{h: h, path: path})
	l.mu.Unlock()
	l.flush()
	return h, nil
}

// flush delivers everything queued on this endpoint if the peer is reachable.
func (l *Loopback) flush() {
	if !l.IsPeerReachable() {
		return
	}

	l.mu.Lock()
	ctx := l.pendingCtx
	bg := l.pendingBg
	files := l.pendingFile
	l.pendingCtx = nil
	l.pendingBg = nil
	l.pendingFile = nil
	l.mu.Unlock()

	peer := l.peer()
	if ctx != nil {
		peer.async(func(d Delegate) { d.OnInboundContext(ctx) })
	}
	for _, h := range bg {
		h := h
		if h.cancelled.Load() {
			continue
		}
		peer.async(func(d Delegate) {
			d.OnInboundBackground(maps.Clone(h.metadata))
			l.async(func(d Delegate) { d.OnBackgroundDelivered(h, nil) })
		})
	}
	for _, job := range files {
		job := job
		go l.deliverFile(job)
	}
}

func (l *Loopback) deliverFile(job *fileJob) {
	if l.latency > 0 {
		time.Sleep(l.latency)
	}
	staged, err := l.stageFile(job)
	if err != nil {
		if d := l.getDelegate(); d != nil {
			d.OnFileTransferDelivered(job.h, err)
		}
		return
	}
	if d := l.peer().getDelegate(); d != nil {
		d.OnInboundFile(ReceivedFile{Path: staged, Metadata: maps.Clone(job.h.metadata)})
	}
	os.Remove(staged)
	if d := l.getDelegate(); d != nil {
		d.OnFileTransferDelivered(job.h, nil)
	}
}

// stageFile copies the source into the peer's staging dir, reporting progress.
func (l *Loopback) stageFile(job *fileJob) (string, error) {
	src, err := os.Open(job.path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	dst, err := os.CreateTemp(l.peer().fileDir, "incoming-*"+filepath.Ext(job.path))
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer dst.Close()

	total := info.Size()
	var copied int64
	buf := make([]byte, fileChunk)
	for {
		if job.h.cancelled.Load() {
			os.Remove(dst.Name())
			return "", ErrCancelled
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				os.Remove(dst.Name())
				return "", fmt.Errorf("write staging file: %w", err)
			}
			copied += int64(n)
			if d := l.getDelegate(); d != nil {
				d.OnFileTransferProgress(job.h, copied, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			os.Remove(dst.Name())
			return "", fmt.Errorf("read source: %w", readErr)
		}
	}
	return dst.Name(), nil
}

type handle struct {
	id        string
	metadata  map[string]any
	cancelled atomic.Bool
}

func (l *Loopback) newHandle(kind string, metadata map[string]any) *handle {
	n := l.nextHandle.Add(1)
	return &handle{
		id:       fmt.Sprintf("%s-%s-%d", l.name, kind, n),
		metadata: maps.Clone(metadata),
	}
}

func (h *handle) ID() string               { return h.id }
func (h *handle) Metadata() map[string]any { return maps.Clone(h.metadata) }
func (h *handle) Cancel()                  { h.cancelled.Store(true) }

var _ Transport = (*Loopback)(nil)
