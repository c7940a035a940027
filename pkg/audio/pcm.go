// Package audio provides the PCM primitives of the capture path: sample
// conversion, linear resampling, RMS level measurement, a minimal WAV codec
// and the FrameSource implementations that feed the segmentation pipeline.
//
// All functions operate on little-endian int16 mono PCM unless stated
// otherwise. The segmentation path is mono by design; stereo inputs are
// downmixed at the source boundary.
package audio

import "math"

// Int16At reads the little-endian int16 sample at byte offset i*2.
func Int16At(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// PutInt16At writes s at byte offset i*2 in little-endian order.
func PutInt16At(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// RMS returns the root-mean-square level of the PCM buffer normalised to
// [0, 1]. An empty buffer yields 0.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := range samples {
		v := float64(Int16At(pcm, i)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}

// RMSdB returns the RMS level of the buffer in decibels relative to full
// scale. Silence (or an empty buffer) is clamped to -100 dB.
func RMSdB(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}

// StereoToMono downmixes interleaved 16-bit stereo PCM by averaging L and R.
// Uses int32 arithmetic to prevent overflow and clamps to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(Int16At(pcm, i*2))
		r := int32(Int16At(pcm, i*2+1))
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		PutInt16At(out, i, int16(avg))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate or the input is shorter than
// one sample, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := Int16At(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = Int16At(pcm, srcIdx+1)
		}

		PutInt16At(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// Float32ToPCM converts normalised float32 samples to little-endian int16
// PCM, clamping to [-1, 1].
func Float32ToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		PutInt16At(out, i, int16(s*math.MaxInt16))
	}
	return out
}

// PCMToFloat32 converts little-endian int16 PCM to normalised float32 samples.
func PCMToFloat32(pcm []byte) []float32 {
	samples := len(pcm) / 2
	out := make([]float32, samples)
	for i := range samples {
		out[i] = float32(Int16At(pcm, i)) / 32768.0
	}
	return out
}
