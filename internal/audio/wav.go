package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	DefaultSampleRate = 16000
	ContentTypeWAV    = "audio/wav"
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(pcm))
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return EncodeWAVInts(samples, sampleRate)
}

// EncodeWAVFloat32 converts [-1,1] float samples to a PCM16 mono WAV.
func EncodeWAVFloat32(samples []float32, sampleRate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, v := range samples {
		ints[i] = int(math.Round(float64(clampUnit(v)) * math.MaxInt16))
	}
	return EncodeWAVInts(ints, sampleRate)
}

// EncodeWAVInts writes 16-bit mono samples as a WAV stream in memory.
func EncodeWAVInts(samples []int, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// WAVInfo describes a decoded WAV clip.
type WAVInfo struct {
	SampleRate int
	Channels   int
	Samples    int
	Duration   time.Duration
}

// InspectWAV validates a WAV payload and reports its shape.
func InspectWAV(data []byte) (WAVInfo, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return WAVInfo{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("decode wav: %w", err)
	}
	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	if pb != nil {
		info.Samples = len(pb.Data)
	}
	if info.SampleRate > 0 && info.Channels > 0 {
		frames := info.Samples / info.Channels
		info.Duration = time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}

// DecodePCM16Base64 decodes one base64 PCM16LE chunk as sent by the browser.
func DecodePCM16Base64(chunk string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, fmt.Errorf("decode pcm chunk: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm16 chunk has odd length %d", len(pcm))
	}
	return pcm, nil
}

// PCM16Duration reports the playback length of mono PCM16 bytes.
func PCM16Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// memWriteSeeker is the io.WriteSeeker the wav encoder needs to patch headers.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, end*2)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}
