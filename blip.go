// Package blipbuf implements a band-limited sound buffer. Sound chip emulators
// add amplitude changes at arbitrary clock times, the buffer resamples them to
// the output rate and accumulates samples until they're read out.
//
// Time is tracked as "resampled time", a 64-bit fixed-point count of output
// samples with [AccuracyBits] fraction bits. The buffer itself holds the
// derivative of the output waveform, which ReadSamples integrates through a
// leaky integrator acting as a bass (DC blocking) filter.
package blipbuf

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

const (
	Stereo = true
	Mono   = false
)

const (
	// AccuracyBits is the number of fraction bits in resampled time.
	AccuracyBits = 32

	// BufferExtra is the number of guard cells past the end of the buffer,
	// reserved for writes reaching slightly ahead of the current window.
	BufferExtra = widestImpulse + 2

	// OutputLatency is the delay, in samples, between the time of an
	// amplitude change and the sample where it shows up.
	OutputLatency = widestImpulse / 2

	// MaxLength can be passed to SetSampleRate to request the largest buffer.
	MaxLength = 0

	// DefaultLength is a reasonable buffer length, in milliseconds.
	DefaultLength = 1000 / 4

	// DefaultBassFrequency is the bass filter breakpoint of a new Buffer.
	DefaultBassFrequency = 16
)

const (
	phaseBits     = 8
	phaseCount    = 1 << phaseBits
	sampleBits    = 30
	widestImpulse = 16

	// code elsewhere may not be safe for sizes approaching 2^31
	maxSize = 1<<30 - 1
)

var (
	// ErrConfiguration is returned when a requested buffer length can't be
	// represented.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrAllocation is returned when sample storage can't be allocated.
	ErrAllocation = errors.New("out of memory")

	// ErrContract is returned when the caller breaks a usage contract: time
	// outside the buffer, removing more samples than available, or querying
	// time before the clock rate is set.
	ErrContract = errors.New("contract violation")
)

// allocSamples allocates zeroed sample storage, turning a failing allocation
// into ErrAllocation.
var allocSamples = func(n int) (s []int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()
	return make([]int32, n), nil
}

// Buffer is a sample buffer that resamples clock-timed deltas to the output
// rate and accumulates samples until they're read out.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	factor  uint64 // resampled time per clock
	offset  uint64 // resampled time of the end of the current frame
	samples []int32
	size    int
	accum   int32

	sampleRate int
	clockRate  int
	bassFreq   int
	bassShift  uint
	length     int
	modified   bool
}

// NewBuffer returns an empty Buffer. SetSampleRate must be called before use.
func NewBuffer() *Buffer {
	return &Buffer{
		factor:   math.MaxUint64,
		bassFreq: DefaultBassFrequency,
	}
}

// SetSampleRate sets the output sample rate and buffer length in
// milliseconds (MaxLength for the largest possible buffer). It reallocates
// the buffer if its size changes and clears it.
func (b *Buffer) SetSampleRate(rate, msec int) error {
	if rate <= 0 || msec < 0 {
		return fmt.Errorf("blipbuf: sample rate %d, length %d ms: %w", rate, msec, ErrConfiguration)
	}

	// start with the maximum length that resampled time can represent
	const representable = math.MaxUint64>>AccuracyBits - BufferExtra - 64
	newSize := int64(min(representable, maxSize))

	if msec != MaxLength {
		s := (int64(rate)*int64(msec+1) + 999) / 1000
		if s >= newSize {
			return fmt.Errorf("blipbuf: %d ms at %d Hz exceeds buffer limit: %w", msec, rate, ErrConfiguration)
		}
		newSize = s
	}

	length := int(newSize*1000/int64(rate)) - 1
	if msec != MaxLength && length != msec {
		return fmt.Errorf("blipbuf: %d ms at %d Hz rounds to %d ms: %w", msec, rate, length, ErrConfiguration)
	}

	factor := b.factor
	if b.clockRate != 0 {
		f, err := clockRateFactor(rate, b.clockRate)
		if err != nil {
			return err
		}
		factor = f
	}

	size := int(newSize)
	if b.samples == nil || size != b.size {
		s, err := allocSamples(size + BufferExtra)
		if err != nil {
			return fmt.Errorf("blipbuf: %d samples: %w", size, err)
		}
		b.samples = s
	}

	b.size = size
	b.sampleRate = rate
	b.length = length
	b.factor = factor
	b.SetBassFrequency(b.bassFreq)
	b.Clear(true)
	return nil
}

// SetClockRate sets the number of source clocks per second.
func (b *Buffer) SetClockRate(rate int) error {
	factor, err := b.ClockRateFactor(rate)
	if err != nil {
		return err
	}
	b.clockRate = rate
	b.factor = factor
	return nil
}

// ClockRateFactor returns the resampled time per clock for the given clock
// rate, without changing the buffer.
func (b *Buffer) ClockRateFactor(rate int) (uint64, error) {
	return clockRateFactor(b.sampleRate, rate)
}

func clockRateFactor(sampleRate, clockRate int) (uint64, error) {
	if clockRate <= 0 {
		return 0, fmt.Errorf("blipbuf: clock rate %d: %w", clockRate, ErrContract)
	}

	ratio := float64(sampleRate) / float64(clockRate)
	factor := math.Floor(ratio*(1<<AccuracyBits) + 0.5)
	switch {
	case factor <= 0 && sampleRate != 0:
		return 0, fmt.Errorf("blipbuf: clock rate %d too large for %d Hz: %w", clockRate, sampleRate, ErrContract)
	case factor >= 1<<64:
		return 0, fmt.Errorf("blipbuf: clock rate %d too small for %d Hz: %w", clockRate, sampleRate, ErrContract)
	}
	return uint64(factor), nil
}

// SetBassFrequency sets the breakpoint of the bass filter applied by
// ReadSamples. Zero or less disables it.
func (b *Buffer) SetBassFrequency(freq int) {
	b.bassFreq = freq
	shift := uint(31)
	if freq > 0 && b.sampleRate > 0 {
		shift = 13
		f := (freq << 16) / b.sampleRate
		for f >>= 1; f != 0; f >>= 1 {
			shift--
			if shift == 0 {
				break
			}
		}
	}
	b.bassShift = shift
}

// Clear removes all samples and resets the bass filter. If entire is false,
// only the cells that may hold unread samples are zeroed.
func (b *Buffer) Clear(entire bool) {
	count := b.size
	if !entire {
		count = b.SamplesAvailable()
	}

	b.offset = 0
	b.accum = 0
	b.modified = false
	if b.samples != nil {
		clear(b.samples[:count+BufferExtra])
	}
}

func (b *Buffer) SampleRate() int { return b.sampleRate }

func (b *Buffer) ClockRate() int { return b.clockRate }

// Length returns the buffer length in milliseconds.
func (b *Buffer) Length() int { return b.length }

// Size returns the buffer capacity in samples.
func (b *Buffer) Size() int { return b.size }

func (b *Buffer) BassFrequency() int { return b.bassFreq }

// Factor returns the resampled time per clock.
func (b *Buffer) Factor() uint64 { return b.factor }

// Modified reports whether anything was added since the last Clear or
// ClearModified.
func (b *Buffer) Modified() bool { return b.modified }

// ClearModified resets the modified flag and returns its previous value.
func (b *Buffer) ClearModified() bool {
	m := b.modified
	b.modified = false
	return m
}

// ResampledDuration converts a duration in clocks to resampled time.
func (b *Buffer) ResampledDuration(t int) uint64 {
	return uint64(t) * b.factor
}

// ResampledTime converts clock time t, relative to the start of the current
// frame, to resampled time.
func (b *Buffer) ResampledTime(t int) uint64 {
	return uint64(t)*b.factor + b.offset
}

// EndFrame ends the current time frame of t clocks and makes the samples it
// covers available for reading. Clock 0 of the next frame is clock t of the
// ended one.
//
// The buffer must be read often enough that the available samples never
// exceed its size; EndFrame reports ErrContract otherwise and leaves the
// buffer untouched.
func (b *Buffer) EndFrame(t int) error {
	if t < 0 {
		return fmt.Errorf("blipbuf: end frame of %d clocks: %w", t, ErrContract)
	}

	hi, lo := bits.Mul64(uint64(t), b.factor)
	off, carry := bits.Add64(b.offset, lo, 0)
	if hi != 0 || carry != 0 || off>>AccuracyBits > uint64(b.size) {
		return fmt.Errorf("blipbuf: end frame of %d clocks exceeds buffer size %d: %w", t, b.size, ErrContract)
	}
	b.offset = off
	return nil
}

// SamplesAvailable returns the number of samples available for reading.
func (b *Buffer) SamplesAvailable() int {
	return int(b.offset >> AccuracyBits)
}

// CountSamples returns the number of additional samples a frame of t clocks
// would make available.
func (b *Buffer) CountSamples(t int) (int, error) {
	if b.clockRate == 0 || b.factor == 0 {
		return 0, fmt.Errorf("blipbuf: sample and clock rates must be set first: %w", ErrContract)
	}
	if t <= 0 {
		return 0, nil
	}
	last := b.ResampledTime(t) >> AccuracyBits
	first := b.offset >> AccuracyBits
	return int(last - first), nil
}

// CountClocks returns the number of clocks needed for SamplesAvailable to
// reach n. n is clamped to the buffer size.
func (b *Buffer) CountClocks(n int) (int, error) {
	if b.clockRate == 0 || b.factor == 0 {
		return 0, fmt.Errorf("blipbuf: sample and clock rates must be set first: %w", ErrContract)
	}
	if n < 0 {
		return 0, fmt.Errorf("blipbuf: count clocks for %d samples: %w", n, ErrContract)
	}

	n = min(n, b.size)
	t := uint64(n) << AccuracyBits
	if t <= b.offset {
		return 0, nil
	}
	return int((t - b.offset + b.factor - 1) / b.factor), nil
}

// RemoveSilence removes n samples without compacting the buffer. Only use it
// when nothing was added to those samples.
func (b *Buffer) RemoveSilence(n int) error {
	if n < 0 || n > b.SamplesAvailable() {
		return fmt.Errorf("blipbuf: remove %d of %d samples: %w", n, b.SamplesAvailable(), ErrContract)
	}
	b.offset -= uint64(n) << AccuracyBits
	return nil
}

// RemoveSamples removes n samples from the start of the buffer.
func (b *Buffer) RemoveSamples(n int) error {
	if err := b.RemoveSilence(n); err != nil {
		return err
	}
	if n != 0 {
		b.removeSamples(n)
	}
	return nil
}

// removeSamples moves the remaining samples and the guard cells to the start
// of the buffer. The offset must already account for the removal.
func (b *Buffer) removeSamples(n int) {
	remain := b.SamplesAvailable() + BufferExtra
	copy(b.samples[:remain], b.samples[n:])
	clear(b.samples[remain : remain+n])
}

// ReadSamples reads and removes at most count samples and writes them to out.
// If stereo is true, it writes to every other element of out, allowing two
// buffers to be interleaved into a stereo stream. It returns the number of
// samples actually read.
func (b *Buffer) ReadSamples(out []int16, count int, stereo bool) (int, error) {
	if count < 0 {
		return 0, fmt.Errorf("blipbuf: read %d samples: %w", count, ErrContract)
	}

	n := min(count, b.SamplesAvailable())
	if n == 0 {
		return 0, nil
	}

	step := 1
	if stereo {
		step = 2
	}
	if len(out) < (n-1)*step+1 {
		return 0, fmt.Errorf("blipbuf: output of %d too short for %d samples: %w", len(out), n, ErrContract)
	}

	bass := b.bassShift
	accum := b.accum
	for i, cell := range b.samples[:n] {
		s := accum >> (sampleBits - 16)
		if int32(int16(s)) != s {
			// keep the overflow sign: pins to 0x7FFF or -0x8000
			s = 0x7FFF - (s >> 24)
		}
		out[i*step] = int16(s)
		accum += cell - (accum >> bass)
	}
	b.accum = accum

	b.offset -= uint64(n) << AccuracyBits
	b.removeSamples(n)
	return n, nil
}

// MixSamples mixes 16-bit samples, already at the output rate, into the
// buffer, starting OutputLatency samples after the available ones.
func (b *Buffer) MixSamples(in []int16) error {
	start := b.SamplesAvailable() + OutputLatency
	if start+len(in)+1 > len(b.samples) {
		return fmt.Errorf("blipbuf: mixing %d samples exceeds buffer size %d: %w", len(in), b.size, ErrContract)
	}

	out := b.samples[start : start+len(in)+1]
	var prev int32
	for i, v := range in {
		s := int32(v) << (sampleBits - 16)
		out[i] += s - prev
		prev = s
	}
	out[len(in)] -= prev
	b.modified = true
	return nil
}

// checkWrite reports whether resampled time rt falls inside the buffer.
func (b *Buffer) checkWrite(rt uint64) error {
	if rt>>AccuracyBits >= uint64(b.size) {
		return fmt.Errorf("blipbuf: time at sample %d beyond buffer size %d: %w", rt>>AccuracyBits, b.size, ErrContract)
	}
	return nil
}
