package audio

import (
	"math"
	"time"
)

// pcmToFloat converts little-endian 16-bit PCM to float64 samples.
func pcmToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	return out
}

// floatToPCM converts float64 samples back to little-endian 16-bit PCM,
// clamping to the int16 range.
func floatToPCM(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(s)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		iv := int16(v)
		out[i*2] = byte(iv)
		out[i*2+1] = byte(iv >> 8)
	}
	return out
}

// LowPass applies a one-pole low-pass filter with the given cutoff frequency.
func LowPass(pcm []byte, sampleRate int, cutoffHz float64) []byte {
	samples := pcmToFloat(pcm)
	if len(samples) == 0 {
		return pcm
	}
	rc := 1 / (2 * math.Pi * cutoffHz)
	dt := 1 / float64(sampleRate)
	alpha := dt / (rc + dt)

	y := samples[0]
	out := make([]float64, len(samples))
	out[0] = y
	for i := 1; i < len(samples); i++ {
		y += alpha * (samples[i] - y)
		out[i] = y
	}
	return floatToPCM(out)
}

// HighPass applies a one-pole high-pass filter with the given cutoff frequency.
func HighPass(pcm []byte, sampleRate int, cutoffHz float64) []byte {
	samples := pcmToFloat(pcm)
	if len(samples) == 0 {
		return pcm
	}
	rc := 1 / (2 * math.Pi * cutoffHz)
	dt := 1 / float64(sampleRate)
	alpha := rc / (rc + dt)

	out := make([]float64, len(samples))
	out[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		out[i] = alpha * (out[i-1] + samples[i] - samples[i-1])
	}
	return floatToPCM(out)
}

// NormalizePeak scales the signal so its peak sits at targetDBFS
// (e.g. -3 for 3 dB of headroom). Silence is returned unchanged.
func NormalizePeak(pcm []byte, targetDBFS float64) []byte {
	samples := pcmToFloat(pcm)
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return pcm
	}
	target := math.Pow(10, targetDBFS/20) * 32767
	gain := target / peak
	for i := range samples {
		samples[i] *= gain
	}
	return floatToPCM(samples)
}

// Compress applies downward dynamic range compression above thresholdDBFS with
// the given ratio. The envelope follower uses the attack and release time
// constants; makeup gain is not applied.
func Compress(pcm []byte, sampleRate int, thresholdDBFS, ratio float64, attack, release time.Duration) []byte {
	samples := pcmToFloat(pcm)
	if len(samples) == 0 || ratio <= 1 {
		return pcm
	}
	atkCoef := envCoef(sampleRate, attack)
	relCoef := envCoef(sampleRate, release)
	threshold := math.Pow(10, thresholdDBFS/20) * 32767

	var env float64
	for i, s := range samples {
		a := math.Abs(s)
		if a > env {
			env = atkCoef*env + (1-atkCoef)*a
		} else {
			env = relCoef*env + (1-relCoef)*a
		}
		if env <= threshold {
			continue
		}
		// Gain reduction above threshold: out = thresh * (env/thresh)^(1/ratio).
		gain := threshold * math.Pow(env/threshold, 1/ratio) / env
		samples[i] = s * gain
	}
	return floatToPCM(samples)
}

func envCoef(sampleRate int, tc time.Duration) float64 {
	sec := tc.Seconds()
	if sec <= 0 {
		return 0
	}
	return math.Exp(-1 / (float64(sampleRate) * sec))
}

// FadeEdges applies linear fade-in and fade-out ramps of duration d to the
// signal edges, removing click transients at playback boundaries.
func FadeEdges(pcm []byte, sampleRate int, d time.Duration) []byte {
	samples := pcmToFloat(pcm)
	n := int(float64(sampleRate) * d.Seconds())
	if n <= 0 || len(samples) < 2*n {
		return pcm
	}
	for i := range n {
		g := float64(i) / float64(n)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
	return floatToPCM(samples)
}

// PadSilence prepends and appends silence of the given durations.
func PadSilence(pcm []byte, sampleRate int, lead, tail time.Duration) []byte {
	leadBytes := 2 * int(float64(sampleRate)*lead.Seconds())
	tailBytes := 2 * int(float64(sampleRate)*tail.Seconds())
	out := make([]byte, leadBytes+len(pcm)+tailBytes)
	copy(out[leadBytes:], pcm)
	return out
}
