package player

import (
	"EliteCompanion/internal/service/tts"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// ErrStopped приходит в канал завершения, если воспроизведение остановлено через Stop.
var ErrStopped = errors.New("player: playback stopped")

// Default воспроизводит mp3 и wav на звуковом устройстве. Play не блокирует:
// завершение приходит в возвращённый канал. Одновременно звучит не больше одной фразы.
type Default struct {
	volumeDB float64

	mu      sync.Mutex
	rate    beep.SampleRate // 0 — speaker ещё не инициализирован
	current *track
}

type track struct {
	ctrl    *beep.Ctrl
	stopped bool // под speaker.Lock
}

// New создаёт плеер без изменения громкости (0 dB).
func New() *Default { return &Default{volumeDB: 0} }

// NewWithVolume создаёт плеер с предустановленной громкостью в dB (отрицательные — тише).
func NewWithVolume(db float64) *Default { return &Default{volumeDB: db} }

// Play запускает воспроизведение и сразу возвращается. Предыдущая фраза, если звучит, обрывается.
func (d *Default) Play(p tts.Payload) (<-chan error, error) {
	streamer, format, err := decode(p)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			_ = streamer.Close()
			return nil, err
		}
		d.rate = format.SampleRate
	}
	var s beep.Streamer = streamer
	if format.SampleRate != d.rate {
		s = beep.Resample(4, format.SampleRate, d.rate, streamer)
	}
	vol := &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   d.volumeDB,
		Silent:   false,
	}

	d.stopLocked()
	tr := &track{ctrl: &beep.Ctrl{Streamer: vol}}
	d.current = tr
	done := make(chan error, 1)
	// Callback вызывается из горутины speaker под его блокировкой
	speaker.Play(beep.Seq(tr.ctrl, beep.Callback(func() {
		_ = streamer.Close()
		if tr.stopped {
			done <- ErrStopped
			return
		}
		done <- nil
	})))
	return done, nil
}

// Stop немедленно обрывает текущую фразу. Без текущей фразы ничего не делает.
func (d *Default) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Default) stopLocked() {
	if d.current == nil {
		return
	}
	speaker.Lock()
	d.current.stopped = true
	d.current.ctrl.Streamer = nil
	speaker.Unlock()
	d.current = nil
}

func decode(p tts.Payload) (beep.StreamSeekCloser, beep.Format, error) {
	if len(p.Audio) == 0 {
		return nil, beep.Format{}, errors.New("player: empty payload")
	}
	r := io.NopCloser(bytes.NewReader(p.Audio))
	switch strings.ToLower(p.Format) {
	case "wav":
		return wav.Decode(r)
	case "mp3":
		return mp3.Decode(r)
	default:
		return nil, beep.Format{}, fmt.Errorf("player: unsupported format %q for direct playback; use mp3 or wav", p.Format)
	}
}
