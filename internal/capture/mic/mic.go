// Package mic records from the host's default input device through PortAudio.
package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/ent0n29/serene/internal/audio"
	"github.com/ent0n29/serene/internal/capture"
	"github.com/ent0n29/serene/internal/reliability"
)

const frameSize = 1024

type Device struct {
	sampleRate  int
	maxDuration time.Duration

	mu          sync.Mutex
	initialized bool
	stream      *portaudio.Stream
	stop        chan struct{}
	done        chan struct{}
	samples     []float32
	readErr     error
}

func New(sampleRate int, maxDuration time.Duration) *Device {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if maxDuration <= 0 {
		maxDuration = 2 * time.Minute
	}
	return &Device{sampleRate: sampleRate, maxDuration: maxDuration}
}

func (d *Device) Acquire(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return reliability.Wrap(reliability.KindDeviceUnavailable, "", err)
	}
	d.initialized = true

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return reliability.Wrap(reliability.KindDeviceUnavailable, "No microphone is available on this device.", err)
	}

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.sampleRate), len(buf), buf)
	if err != nil {
		return reliability.Wrap(reliability.KindDeviceUnavailable, "", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return reliability.Wrap(reliability.KindPermissionDenied, "", err)
	}

	d.stream = stream
	d.samples = d.samples[:0]
	d.readErr = nil
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.read(stream, buf, d.stop, d.done)
	return nil
}

func (d *Device) read(stream *portaudio.Stream, buf []float32, stop, done chan struct{}) {
	defer close(done)
	deadline := time.Now().Add(d.maxDuration)
	for time.Now().Before(deadline) {
		select {
		case <-stop:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			d.mu.Lock()
			d.readErr = err
			d.mu.Unlock()
			return
		}
		d.mu.Lock()
		d.samples = append(d.samples, buf...)
		d.mu.Unlock()
	}
}

func (d *Device) Finish(_ context.Context) (capture.Clip, error) {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return capture.Clip{}, nil
	}
	close(stop)
	<-done

	d.mu.Lock()
	samples := append([]float32(nil), d.samples...)
	readErr := d.readErr
	d.mu.Unlock()

	if len(samples) == 0 {
		if readErr != nil {
			return capture.Clip{}, reliability.Wrap(reliability.KindNothingCaptured, "", readErr)
		}
		return capture.Clip{}, nil
	}
	data, err := audio.EncodeWAVFloat32(samples, d.sampleRate)
	if err != nil {
		return capture.Clip{}, fmt.Errorf("encode clip: %w", err)
	}
	return capture.Clip{
		Data:        data,
		ContentType: audio.ContentTypeWAV,
		SampleRate:  d.sampleRate,
		Duration:    time.Duration(len(samples)) * time.Second / time.Duration(d.sampleRate),
	}, nil
}

func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.stream != nil {
		if err := d.stream.Stop(); err != nil && !errors.Is(err, portaudio.StreamIsStopped) {
			errs = append(errs, err)
		}
		if err := d.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		d.stream = nil
	}
	if d.initialized {
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, err)
		}
		d.initialized = false
	}
	return errors.Join(errs...)
}
