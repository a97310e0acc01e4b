package audio

import (
	"fmt"
	"io"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into 16-bit mono PCM at the decoder's
// native sample rate.
func DecodeMP3(r io.Reader) (pcm []byte, sampleRate int, err error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always emits 16-bit stereo little-endian.
	stereo, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	return StereoToMono(stereo), dec.SampleRate(), nil
}

// ConditionTelephony prepares wideband speech PCM for an 8 kHz μ-law carrier:
// band-limit to the telephony range, downsample, normalize with 3 dB of
// headroom, tame peaks with gentle 2:1 compression, fade the edges and pad
// with 20 ms of silence on both sides.
func ConditionTelephony(pcm []byte, sampleRate int) []byte {
	out := LowPass(pcm, sampleRate, 3400)
	out = HighPass(out, sampleRate, 120)
	out = ResampleMono16(out, sampleRate, SampleRate)
	out = NormalizePeak(out, -3)
	out = Compress(out, SampleRate, -18, 2, 5*time.Millisecond, 50*time.Millisecond)
	out = FadeEdges(out, SampleRate, 8*time.Millisecond)
	out = PadSilence(out, SampleRate, 20*time.Millisecond, 20*time.Millisecond)
	return out
}

// FramesFromMP3 decodes and conditions an MP3 stream into base64 μ-law
// carrier frames.
func FramesFromMP3(r io.Reader) ([]string, error) {
	pcm, rate, err := DecodeMP3(r)
	if err != nil {
		return nil, err
	}
	conditioned := ConditionTelephony(pcm, rate)
	return Frames(PCM16ToULaw(conditioned)), nil
}

// FramesFromMP3File decodes and conditions the MP3 file at path into base64
// μ-law carrier frames.
func FramesFromMP3File(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mp3 %s: %w", path, err)
	}
	defer f.Close()
	frames, err := FramesFromMP3(f)
	if err != nil {
		return nil, fmt.Errorf("mp3 %s: %w", path, err)
	}
	return frames, nil
}

// MP3FileDuration reports the decoded duration of the MP3 file at path.
func MP3FileDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mp3 %s: %w", path, err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("decode mp3 %s: %w", path, err)
	}
	bytes := dec.Length()
	if bytes < 0 {
		n, err := io.Copy(io.Discard, dec)
		if err != nil {
			return 0, fmt.Errorf("decode mp3 %s: %w", path, err)
		}
		bytes = n
	}
	// 4 bytes per sample: 16-bit stereo.
	samples := bytes / 4
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}
