package audio

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
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

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// UpsampleDoubleFloat32 doubles the sample rate of 16-bit mono PCM and returns
// normalized float32 samples in [-1, 1]. Even output indices carry the source
// samples; odd indices carry the midpoint of their neighbours, except the last
// output sample which duplicates the final source sample. This is the exact
// shape the local speech recognizer expects for its 8 kHz to 16 kHz path.
func UpsampleDoubleFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]float32, n*2)
	for i := range n {
		s := float32(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
		out[i*2] = s
		if i+1 < n {
			next := float32(int16(pcm[(i+1)*2])|int16(pcm[(i+1)*2+1])<<8) / 32768.0
			out[i*2+1] = (s + next) / 2
		} else {
			out[i*2+1] = s
		}
	}
	return out
}
