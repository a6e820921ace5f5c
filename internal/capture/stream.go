package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/serene/internal/audio"
	"github.com/ent0n29/serene/internal/reliability"
)

// Signaler carries capture control to the remote client that owns the
// microphone.
type Signaler interface {
	RequestCapture(captureID string, sampleRate int) error
	ReleaseCapture(captureID string) error
}

// Ack reasons reported by the client when it cannot record.
const (
	AckPermissionDenied = "permission_denied"
	AckUnavailable      = "unavailable"
)

type ackResult struct {
	granted bool
	reason  string
}

// StreamDevice records PCM16 chunks pushed by a remote client.
type StreamDevice struct {
	signal     Signaler
	sampleRate int
	ackTimeout time.Duration
	maxBytes   int

	mu        sync.Mutex
	captureID string
	ack       chan ackResult
	active    bool
	pcm       bytes.Buffer
}

type StreamConfig struct {
	SampleRate  int
	AckTimeout  time.Duration
	MaxDuration time.Duration
}

func NewStreamDevice(signal Signaler, cfg StreamConfig) *StreamDevice {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 2 * time.Minute
	}
	return &StreamDevice{
		signal:     signal,
		sampleRate: cfg.SampleRate,
		ackTimeout: cfg.AckTimeout,
		maxBytes:   int(cfg.MaxDuration.Seconds()) * cfg.SampleRate * 2,
	}
}

func (d *StreamDevice) SampleRate() int { return d.sampleRate }

// Acquire asks the client to open its microphone and waits for the answer.
func (d *StreamDevice) Acquire(ctx context.Context) error {
	if d.signal == nil {
		return reliability.New(reliability.KindDeviceUnavailable, "")
	}
	id := uuid.NewString()
	ack := make(chan ackResult, 1)

	d.mu.Lock()
	d.captureID = id
	d.ack = ack
	d.active = false
	d.pcm.Reset()
	d.mu.Unlock()

	if err := d.signal.RequestCapture(id, d.sampleRate); err != nil {
		d.abandon(id, false)
		return reliability.Wrap(reliability.KindDeviceUnavailable, "", err)
	}

	timer := time.NewTimer(d.ackTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		d.abandon(id, true)
		return reliability.Wrap(reliability.KindCancelled, "", ctx.Err())
	case <-timer.C:
		d.abandon(id, true)
		return reliability.New(reliability.KindDeviceUnavailable, "Microphone did not respond. Please try again.")
	case res := <-ack:
		if res.granted {
			return nil
		}
		d.abandon(id, false)
		if res.reason == AckPermissionDenied {
			return reliability.New(reliability.KindPermissionDenied, "")
		}
		return reliability.New(reliability.KindDeviceUnavailable, "")
	}
}

// abandon forgets a failed capture request if it is still the current one.
// notify tells the client to drop a microphone it may open late.
func (d *StreamDevice) abandon(id string, notify bool) {
	d.mu.Lock()
	if d.captureID == id {
		d.captureID = ""
		d.ack = nil
		d.active = false
		d.pcm.Reset()
	}
	d.mu.Unlock()
	if notify {
		_ = d.signal.ReleaseCapture(id)
	}
}

// Ack delivers the client's answer to the pending capture request.
// Stale or duplicate answers are ignored.
func (d *StreamDevice) Ack(captureID string, granted bool, reason string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ack == nil || captureID != d.captureID {
		return false
	}
	select {
	case d.ack <- ackResult{granted: granted, reason: reason}:
	default:
		return false
	}
	d.ack = nil
	// Chunks may follow the grant before Acquire wakes up.
	d.active = granted
	return true
}

// Push appends PCM16LE audio to the active capture. Audio beyond the
// maximum clip length is dropped.
func (d *StreamDevice) Push(captureID string, pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active || (captureID != "" && captureID != d.captureID) {
		return ErrNotRecording
	}
	room := d.maxBytes - d.pcm.Len()
	if room <= 0 {
		return nil
	}
	if len(pcm) > room {
		pcm = pcm[:room&^1]
	}
	d.pcm.Write(pcm)
	return nil
}

func (d *StreamDevice) Finish(_ context.Context) (Clip, error) {
	d.mu.Lock()
	d.active = false
	pcm := append([]byte(nil), d.pcm.Bytes()...)
	d.pcm.Reset()
	d.mu.Unlock()

	if len(pcm) == 0 {
		return Clip{}, nil
	}
	data, err := audio.EncodeWAVPCM16LE(pcm, d.sampleRate)
	if err != nil {
		return Clip{}, reliability.Wrap(reliability.KindNothingCaptured, "", err)
	}
	return Clip{
		Data:        data,
		ContentType: audio.ContentTypeWAV,
		SampleRate:  d.sampleRate,
		Duration:    audio.PCM16Duration(len(pcm), d.sampleRate),
	}, nil
}

// Release ends the current capture. It does nothing once a failed Acquire
// has already abandoned its request.
func (d *StreamDevice) Release() error {
	d.mu.Lock()
	id := d.captureID
	d.captureID = ""
	d.ack = nil
	d.active = false
	d.mu.Unlock()

	if id == "" || d.signal == nil {
		return nil
	}
	if err := d.signal.ReleaseCapture(id); err != nil {
		return fmt.Errorf("release capture: %w", err)
	}
	return nil
}
