package blipbuf

import (
	"fmt"
)

type synth struct {
	deltaFactor int32
	lastAmp     int32
}

// SetVolumeUnit sets the buffer delta produced by an amplitude change of 1.
func (s *synth) SetVolumeUnit(unit float64) {
	s.deltaFactor = int32(unit*(1<<sampleBits) + 0.5)
}

// SetVolume sets the volume so that an amplitude of amplitudeRange plays at
// volume v, 1.0 being full scale.
func (s *synth) SetVolume(v float64, amplitudeRange int) {
	if amplitudeRange < 0 {
		amplitudeRange = -amplitudeRange
	}
	if amplitudeRange == 0 {
		s.deltaFactor = 0
		return
	}
	s.SetVolumeUnit(v * (1.0 / float64(amplitudeRange)))
}

// LastAmplitude returns the amplitude set by the last Update.
func (s *synth) LastAmplitude() int { return int(s.lastAmp) }

// update validates the write and records the new amplitude, returning the
// resampled time and delta to add.
func (s *synth) update(buf *Buffer, t, amp int) (uint64, int32, error) {
	if t < 0 {
		return 0, 0, fmt.Errorf("blipbuf: update at clock %d: %w", t, ErrContract)
	}
	rt := buf.ResampledTime(t)
	if err := buf.checkWrite(rt); err != nil {
		return 0, 0, err
	}
	delta := int32(amp) - s.lastAmp
	s.lastAmp = int32(amp)
	return rt, delta, nil
}

func resampledOffset(buf *Buffer, t int) (uint64, error) {
	if t < 0 {
		return 0, fmt.Errorf("blipbuf: offset at clock %d: %w", t, ErrContract)
	}
	return buf.ResampledTime(t), nil
}

// FastSynth adds amplitude steps to a Buffer, splitting each step linearly
// between the two samples around it. Writes are cheap but the output is not
// fully band-limited.
//
// A FastSynth doesn't own the Buffer it writes to, so several of them can
// add into the same Buffer. The zero value is silent until a volume is set.
type FastSynth struct {
	synth
}

// Update changes the amplitude at clock time t of the current frame.
func (s *FastSynth) Update(buf *Buffer, t, amp int) error {
	rt, delta, err := s.update(buf, t, amp)
	if err != nil {
		return err
	}
	s.offset(buf, rt, delta)
	return nil
}

// Offset adds an amplitude change of delta at clock time t, without changing
// the amplitude tracked by Update.
func (s *FastSynth) Offset(buf *Buffer, t, delta int) error {
	rt, err := resampledOffset(buf, t)
	if err != nil {
		return err
	}
	return s.OffsetResampled(buf, rt, delta)
}

// OffsetResampled is like Offset but takes a resampled time.
func (s *FastSynth) OffsetResampled(buf *Buffer, rt uint64, delta int) error {
	if err := buf.checkWrite(rt); err != nil {
		return err
	}
	s.offset(buf, rt, int32(delta))
	return nil
}

func (s *FastSynth) offset(buf *Buffer, rt uint64, delta int32) {
	delta *= s.deltaFactor
	out := buf.samples[rt>>AccuracyBits+OutputLatency:]
	phase := int32(rt >> (AccuracyBits - phaseBits) & (phaseCount - 1))

	// shifting after the multiply would overflow
	right := (delta >> phaseBits) * phase
	out[0] += delta - right
	out[1] += right
	buf.modified = true
}

// Synth adds band-limited amplitude steps to a Buffer, using a 16-tap step
// kernel interpolated between 32 phases. It has the same latency as
// FastSynth and can share a Buffer with it.
type Synth struct {
	synth
}

// Update changes the amplitude at clock time t of the current frame.
func (s *Synth) Update(buf *Buffer, t, amp int) error {
	rt, delta, err := s.update(buf, t, amp)
	if err != nil {
		return err
	}
	s.offset(buf, rt, delta)
	return nil
}

// Offset adds an amplitude change of delta at clock time t, without changing
// the amplitude tracked by Update.
func (s *Synth) Offset(buf *Buffer, t, delta int) error {
	rt, err := resampledOffset(buf, t)
	if err != nil {
		return err
	}
	return s.OffsetResampled(buf, rt, delta)
}

// OffsetResampled is like Offset but takes a resampled time.
func (s *Synth) OffsetResampled(buf *Buffer, rt uint64, delta int) error {
	if err := buf.checkWrite(rt); err != nil {
		return err
	}
	s.offset(buf, rt, int32(delta))
	return nil
}

func (s *Synth) offset(buf *Buffer, rt uint64, delta int32) {
	const phaseShift = AccuracyBits - kernelPhaseBits

	phase := int(rt >> phaseShift & (kernelPhases - 1))
	interp := int64(rt >> (phaseShift - kernelBits) & (kernelUnit - 1))

	d := int64(delta) * int64(s.deltaFactor)
	d2 := (d * interp) >> kernelBits
	d -= d2

	// kernel centre lands on OutputLatency
	out := buf.samples[rt>>AccuracyBits+1:][:2*halfWidth]

	fwd := phase * halfWidth
	for i := range halfWidth {
		out[i] += int32((int64(stepKernel[fwd+i])*d + int64(stepKernel[fwd+halfWidth+i])*d2) >> kernelBits)
	}

	rev := (kernelPhases - phase) * halfWidth
	for i := range halfWidth {
		out[halfWidth+i] += int32((int64(stepKernel[rev+halfWidth-1-i])*d + int64(stepKernel[rev-1-i])*d2) >> kernelBits)
	}
	buf.modified = true
}
