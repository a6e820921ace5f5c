package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/serene/internal/reliability"
)

var (
	ErrAlreadyRecording = errors.New("capture already in progress")
	ErrNotRecording     = errors.New("no capture in progress")
)

// Clip is a finished recording awaiting transcription.
type Clip struct {
	Data        []byte
	ContentType string
	SampleRate  int
	Duration    time.Duration
}

// Device is an audio input the controller owns for the length of one capture.
type Device interface {
	// Acquire obtains the input and starts recording. It blocks while the
	// platform asks the user for permission.
	Acquire(ctx context.Context) error
	// Finish stops recording and returns what was collected.
	Finish(ctx context.Context) (Clip, error)
	// Release gives the input back to the platform. It must be safe to call
	// after a failed Acquire.
	Release() error
}

type state int

const (
	stateIdle state = iota
	stateAcquiring
	stateRecording
)

// Controller drives one Device through acquire, record, stop and release.
type Controller struct {
	mu     sync.Mutex
	device Device
	state  state
	acq    *acquisition
}

// acquisition is one pending Acquire call. done closes once the call has
// returned and its outcome has been applied to the controller.
type acquisition struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
}

func NewController(device Device) *Controller {
	return &Controller{device: device}
}

// RequestStart acquires the device. Failures are reported as
// PermissionDenied or DeviceUnavailable and leave the device released.
// An Abort while the device is being acquired cancels the acquisition, and
// a start that arrives meanwhile waits for it to wind down.
func (c *Controller) RequestStart(ctx context.Context) error {
	c.mu.Lock()
	for c.state == stateAcquiring && c.acq.aborted {
		done := c.acq.done
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return reliability.Wrap(reliability.KindCancelled, "", ctx.Err())
		}
		c.mu.Lock()
	}
	if c.state != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	acqCtx, cancel := context.WithCancel(ctx)
	a := &acquisition{cancel: cancel, done: make(chan struct{})}
	c.state = stateAcquiring
	c.acq = a
	c.mu.Unlock()
	defer func() {
		cancel()
		close(a.done)
	}()

	if c.device == nil {
		c.settle(a, stateIdle)
		return reliability.New(reliability.KindDeviceUnavailable, "")
	}

	err := c.device.Acquire(acqCtx)
	if err == nil {
		if !c.settle(a, stateRecording) {
			return nil
		}
		_, _ = c.device.Finish(context.Background())
	}
	_ = c.device.Release()
	if aborted := c.settle(a, stateIdle); aborted || err == nil {
		return reliability.Wrap(reliability.KindCancelled, "", err)
	}
	return classifyAcquire(err)
}

// settle moves the controller out of acquisition a and reports whether a
// was aborted. An aborted acquisition stays in acquiring until it settles
// to idle, so the device is released before anyone else can start.
func (c *Controller) settle(a *acquisition, s state) (aborted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acq != a {
		return a.aborted
	}
	if a.aborted && s != stateIdle {
		return true
	}
	c.acq = nil
	c.state = s
	return a.aborted
}

// RequestStop finalizes the capture and always releases the device.
func (c *Controller) RequestStop(ctx context.Context) (Clip, error) {
	c.mu.Lock()
	if c.state != stateRecording {
		c.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	c.state = stateIdle
	c.mu.Unlock()

	defer func() { _ = c.device.Release() }()

	clip, err := c.device.Finish(ctx)
	if err != nil {
		if reliability.KindOf(err) != "" {
			return Clip{}, err
		}
		return Clip{}, reliability.Wrap(reliability.KindNothingCaptured, "", err)
	}
	if len(clip.Data) == 0 {
		return Clip{}, reliability.New(reliability.KindNothingCaptured, "")
	}
	return clip, nil
}

// Abort drops an in-progress capture without producing a clip. A pending
// acquisition is cancelled, and Abort returns once it has released the
// device.
func (c *Controller) Abort() {
	c.mu.Lock()
	switch c.state {
	case stateRecording:
		c.state = stateIdle
		c.mu.Unlock()
		_, _ = c.device.Finish(context.Background())
		_ = c.device.Release()
	case stateAcquiring:
		a := c.acq
		a.aborted = true
		c.mu.Unlock()
		a.cancel()
		<-a.done
	default:
		c.mu.Unlock()
	}
}

func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRecording
}

func (c *Controller) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func classifyAcquire(err error) error {
	switch reliability.KindOf(err) {
	case reliability.KindPermissionDenied, reliability.KindDeviceUnavailable, reliability.KindCancelled:
		return err
	}
	if errors.Is(err, context.Canceled) {
		return reliability.Wrap(reliability.KindCancelled, "", err)
	}
	return reliability.Wrap(reliability.KindDeviceUnavailable, "", err)
}
