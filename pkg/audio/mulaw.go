// Package audio provides the PCM and G.711 μ-law primitives used across the
// telephony pipeline: codec conversion, resampling, level measurement, WAV
// packaging, MP3 decoding and the conditioning chain that prepares synthesized
// speech for an 8 kHz carrier stream.
//
// Unless stated otherwise, PCM buffers are little-endian 16-bit mono samples.
package audio

// Carrier audio format: 8 kHz μ-law, 160 bytes per 20 ms frame.
const (
	// SampleRate is the carrier sample rate in Hz.
	SampleRate = 8000

	// FrameBytes is the byte length of one μ-law frame (20 ms at 8 kHz).
	FrameBytes = 160

	// FrameSeconds is the duration of one frame in seconds.
	FrameSeconds = 0.02

	// ULawSilence is the μ-law encoding of a zero-amplitude sample.
	ULawSilence byte = 0xFF
)

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// ULawToPCM16 decodes G.711 μ-law bytes into little-endian 16-bit PCM.
func ULawToPCM16(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := ulawDecodeSample(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToULaw encodes little-endian 16-bit PCM into G.711 μ-law bytes.
// A trailing odd byte is ignored.
func PCM16ToULaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = ulawEncodeSample(s)
	}
	return out
}

func ulawEncodeSample(s int16) byte {
	x := int32(s)
	var sign byte
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > ulawClip {
		x = ulawClip
	}
	x += ulawBias

	exp := byte(7)
	for mask := int32(0x4000); mask != 0 && x&mask == 0; mask >>= 1 {
		exp--
	}
	mantissa := byte((x >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mantissa)
}

func ulawDecodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mantissa := u & 0x0F

	x := ((int32(mantissa) << 3) + ulawBias) << exp
	x -= ulawBias
	if sign != 0 {
		x = -x
	}
	return int16(x)
}
