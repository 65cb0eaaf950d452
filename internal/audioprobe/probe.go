// Package audioprobe reads basic stream metadata from saved uploads. It is
// best effort: callers log or record the result and never reject on it.
package audioprobe

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

type Info struct {
	Format     string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

var ErrUnsupported = errors.New("audioprobe: unsupported format")

// Probe inspects the file at path according to its extension (wav, mp3, ogg).
func Probe(path, ext string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	switch ext {
	case "wav":
		return probeWAV(f)
	case "mp3":
		return probeMP3(f)
	case "ogg":
		return probeOgg(f)
	default:
		return Info{}, ErrUnsupported
	}
}

func probeWAV(f *os.File) (Info, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("audioprobe: invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("audioprobe: wav duration: %w", err)
	}
	return Info{
		Format:     "wav",
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Duration:   d,
	}, nil
}

// go-mp3 always decodes to 16-bit stereo, so one sample frame is 4 bytes.
const mp3BytesPerFrame = 4

func probeMP3(f *os.File) (Info, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return Info{}, fmt.Errorf("audioprobe: mp3: %w", err)
	}
	rate := dec.SampleRate()
	info := Info{Format: "mp3", SampleRate: rate, Channels: 2}
	if length := dec.Length(); length > 0 && rate > 0 {
		frames := length / mp3BytesPerFrame
		info.Duration = time.Duration(frames) * time.Second / time.Duration(rate)
	}
	return info, nil
}

func probeOgg(f *os.File) (Info, error) {
	samples, format, err := oggvorbis.GetLength(f)
	if err != nil {
		return Info{}, fmt.Errorf("audioprobe: ogg: %w", err)
	}
	info := Info{Format: "ogg", SampleRate: format.SampleRate, Channels: format.Channels}
	if format.SampleRate > 0 {
		info.Duration = time.Duration(samples) * time.Second / time.Duration(format.SampleRate)
	}
	return info, nil
}
