// Package notify plays the short chime that tells the user the microphone is
// listening.
package notify

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

const (
	outputRate   = beep.SampleRate(44100)
	toneHz       = 660
	toneDuration = 180 * time.Millisecond
)

// Chime plays an mp3 file when one is configured, otherwise a soft tone.
type Chime struct {
	file string

	initOnce sync.Once
	initErr  error
	mu       sync.Mutex
}

func NewChime(file string) *Chime {
	return &Chime{file: file}
}

// Play blocks until the chime has finished or ctx is done.
func (c *Chime) Play(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	if c.initErr != nil {
		return fmt.Errorf("init speaker: %w", c.initErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	streamer, closeFn, err := c.source()
	if err != nil {
		return err
	}
	defer closeFn()

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(done) })))
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func (c *Chime) source() (beep.Streamer, func(), error) {
	if c.file == "" {
		return Tone(outputRate, toneHz, toneDuration), func() {}, nil
	}
	f, err := os.Open(c.file)
	if err != nil {
		return nil, nil, fmt.Errorf("open chime: %w", err)
	}
	s, format, err := mp3.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("decode chime %s: %w", c.file, err)
	}
	var out beep.Streamer = s
	if format.SampleRate != outputRate {
		out = beep.Resample(4, format.SampleRate, outputRate, s)
	}
	return out, func() { _ = s.Close() }, nil
}

// Tone is a sine tone with a short linear fade at both ends, played at
// reduced volume.
func Tone(rate beep.SampleRate, hz float64, d time.Duration) beep.Streamer {
	total := rate.N(d)
	fade := total / 8
	pos := 0
	step := 2 * math.Pi * hz / float64(rate)
	sine := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for i := range samples {
			if pos >= total {
				break
			}
			gain := 1.0
			switch {
			case fade > 0 && pos < fade:
				gain = float64(pos) / float64(fade)
			case fade > 0 && pos > total-fade:
				gain = float64(total-pos) / float64(fade)
			}
			v := math.Sin(step*float64(pos)) * gain
			samples[i][0], samples[i][1] = v, v
			pos++
			n++
		}
		return n, true
	})
	return &effects.Volume{Streamer: sine, Base: 2, Volume: -2}
}
