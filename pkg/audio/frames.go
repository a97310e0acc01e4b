package audio

import (
	"encoding/base64"
	"time"
)

// Frames splits μ-law bytes into base64-encoded carrier frames of
// [FrameBytes] each. A partial trailing frame is padded with μ-law silence so
// every returned payload decodes to exactly 20 ms of audio.
func Frames(ulaw []byte) []string {
	if len(ulaw) == 0 {
		return nil
	}
	n := (len(ulaw) + FrameBytes - 1) / FrameBytes
	out := make([]string, 0, n)
	for off := 0; off < len(ulaw); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(ulaw) {
			out = append(out, base64.StdEncoding.EncodeToString(ulaw[off:end]))
			continue
		}
		frame := make([]byte, FrameBytes)
		copy(frame, ulaw[off:])
		for i := len(ulaw) - off; i < FrameBytes; i++ {
			frame[i] = ULawSilence
		}
		out = append(out, base64.StdEncoding.EncodeToString(frame))
	}
	return out
}

// SilenceFrame returns one base64-encoded frame of μ-law silence.
func SilenceFrame() string {
	frame := make([]byte, FrameBytes)
	for i := range frame {
		frame[i] = ULawSilence
	}
	return base64.StdEncoding.EncodeToString(frame)
}

// FramesDuration returns the playback duration of n carrier frames.
func FramesDuration(n int) time.Duration {
	return time.Duration(n) * 20 * time.Millisecond
}
