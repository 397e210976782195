package player

import (
	"EliteCompanion/internal/service/tts"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Silent «проигрывает» фразу без звукового устройства: пишет текст в лог, а завершение
// приходит через время, пропорциональное длине текста. Для режима stub и машин без звука.
type Silent struct {
	perRune time.Duration
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	stop chan struct{}
}

func NewSilent(perRune time.Duration, logger *zap.SugaredLogger) *Silent {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Silent{perRune: max(0, perRune), logger: logger}
}

func (s *Silent) Play(p tts.Payload) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	stop := make(chan struct{})
	s.stop = stop
	done := make(chan error, 1)
	d := time.Duration(utf8.RuneCountInString(p.Text)) * s.perRune
	s.logger.Infow("Speaking", "text", p.Text, "format", p.Format)
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			done <- nil
		case <-stop:
			done <- ErrStopped
		}
	}()
	return done, nil
}

func (s *Silent) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Silent) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}
