package wave

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Sound is a mono 16-bit recording.
type Sound struct {
	SampleRate int
	Samples    []int16
}

// Load reads a wave or mp3 file, chosen by extension. Only the first channel
// of multi-channel files is kept.
func Load(path string) (*Sound, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	}
	return nil, fmt.Errorf("wave: %s: unsupported file type", path)
}

func decodeWAV(r io.ReadSeeker) (*Sound, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wave: not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wave: wav: %w", err)
	}

	depth := int(dec.BitDepth)
	if depth != 8 && depth != 16 && depth != 24 && depth != 32 {
		return nil, fmt.Errorf("wave: wav: unsupported bit depth %d", depth)
	}

	chans := int(dec.NumChans)
	snd := &Sound{
		SampleRate: int(dec.SampleRate),
		Samples:    make([]int16, 0, len(buf.Data)/chans),
	}
	for i := 0; i < len(buf.Data); i += chans {
		v := buf.Data[i]
		switch {
		case depth == 8:
			// 8-bit wave data is unsigned
			v = (v - 128) << 8
		case depth > 16:
			v >>= depth - 16
		}
		snd.Samples = append(snd.Samples, int16(v))
	}
	return snd, nil
}

func decodeMP3(r io.Reader) (*Sound, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("wave: mp3: %w", err)
	}

	// the stream is always 16-bit little endian, 2 channels
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("wave: mp3: %w", err)
	}

	snd := &Sound{
		SampleRate: dec.SampleRate(),
		Samples:    make([]int16, 0, len(data)/4),
	}
	for i := 0; i+1 < len(data); i += 4 {
		snd.Samples = append(snd.Samples, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	return snd, nil
}
