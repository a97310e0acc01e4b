package player

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/ringline-ai/ringline/pkg/audio"
)

// ttsQueueCap bounds the raw TTS byte-chunk queue between the synthesis
// reader and the reframer. When the queue is full the incoming chunk is
// dropped, never an already-queued one, so playback degrades from the tail.
const ttsQueueCap = 512

// reframe converts the raw μ-law byte stream from the synthesizer into
// base64 frame payloads of exactly [audio.FrameBytes] bytes. Chunk
// boundaries from the synthesizer carry no meaning, so bytes are
// accumulated across chunks; a final partial frame is padded with μ-law
// silence.
func (p *Player) reframe(ctx context.Context, raw <-chan []byte) <-chan string {
	buffered := make(chan []byte, ttsQueueCap)
	go func() {
		defer close(buffered)
		for chunk := range raw {
			select {
			case buffered <- chunk:
			default:
				p.metrics.TTSDroppedBytes.Add(context.Background(), int64(len(chunk)))
				slog.Warn("tts byte queue full, dropping chunk", "bytes", len(chunk))
			}
		}
	}()

	out := make(chan string, 64)
	go func() {
		defer close(out)
		emit := func(frame []byte) bool {
			select {
			case out <- base64.StdEncoding.EncodeToString(frame):
				return true
			case <-ctx.Done():
				return false
			}
		}

		var buf []byte
		for chunk := range buffered {
			buf = append(buf, chunk...)
			for len(buf) >= audio.FrameBytes {
				if !emit(buf[:audio.FrameBytes]) {
					return
				}
				buf = buf[audio.FrameBytes:]
			}
		}
		if len(buf) > 0 {
			frame := make([]byte, audio.FrameBytes)
			copy(frame, buf)
			for i := len(buf); i < audio.FrameBytes; i++ {
				frame[i] = audio.ULawSilence
			}
			emit(frame)
		}
	}()
	return out
}
