// Package wave writes 16-bit samples to wave files and loads sounds from wave
// and mp3 files.
package wave

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth  = 16
	pcmFormat = 1
)

// A Writer writes samples to a wave file.
type Writer struct {
	w           io.WriteSeeker
	c           io.Closer
	enc         *wav.Encoder
	sampleRate  int
	sampleCount int
	chanCount   int
	buf         audio.IntBuffer
}

// NewWriter creates a new Writer with the given sample rate, onto which samples
// can be written with Write. Close must be called when done writing samples to
// finalize the wave file. Close doesn't close w.
func NewWriter(w io.WriteSeeker, sampleRate int) *Writer {
	return &Writer{
		w:          w,
		sampleRate: sampleRate,
		chanCount:  1,
	}
}

// NewFile creates a new wave file at the given path with the given sample rate.
// Close must be called when done writing samples to finalize the wave file.
func NewFile(path string, sampleRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f, sampleRate)
	w.c = f
	return w, nil
}

// EnableStereo makes the file two channels, samples being interleaved left
// then right. It must be called before the first Write.
func (w *Writer) EnableStereo() {
	w.chanCount = 2
}

// SampleCount returns the number of samples written so far, counting each
// channel.
func (w *Writer) SampleCount() int {
	return w.sampleCount
}

func (w *Writer) encoder() *wav.Encoder {
	if w.enc == nil {
		w.enc = wav.NewEncoder(w.w, w.sampleRate, bitDepth, w.chanCount, pcmFormat)
		w.buf.Format = &audio.Format{
			NumChannels: w.chanCount,
			SampleRate:  w.sampleRate,
		}
		w.buf.SourceBitDepth = bitDepth
	}
	return w.enc
}

// Write appends samples to the file.
func (w *Writer) Write(p []int16) (n int, err error) {
	enc := w.encoder()

	w.buf.Data = w.buf.Data[:0]
	for _, s := range p {
		w.buf.Data = append(w.buf.Data, int(s))
	}
	if err := enc.Write(&w.buf); err != nil {
		return 0, fmt.Errorf("wave: %w", err)
	}

	w.sampleCount += len(p)
	return len(p), nil
}

// Close finalizes the wave file. It must be called when done writing samples.
func (w *Writer) Close() error {
	enc := w.encoder()
	if w.sampleCount == 0 {
		// the header is only written along with samples
		w.buf.Data = w.buf.Data[:0]
		if err := enc.Write(&w.buf); err != nil {
			return fmt.Errorf("wave: %w", err)
		}
	}

	err := enc.Close()
	w.enc = nil
	w.sampleCount = 0
	w.chanCount = 1

	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("wave: %w", err)
	}
	return nil
}
