package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LanguageModel — генератор реплики корабельного ИИ. Все реализации взаимозаменяемы.
// history — последние события (от старых к новым), только для чтения.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, history []string) (string, error)
}

// ErrEmptyResponse — модель вернула пустой текст (после очистки).
var ErrEmptyResponse = errors.New("empty model response")

// InferenceError — ошибка запроса к модели.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func wrap(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &InferenceError{Backend: backend, Err: err}
}

var rolePrefixes = []string{"Response:", "AI:", "Model:", "Assistant:", "Orca:", "Ship:"}

// CleanResponse убирает обрамляющие кавычки и префиксы ролей, которыми модели любят начинать ответ.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	for _, p := range rolePrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

// historyBlock сворачивает последние события в один текст для модели.
func historyBlock(history []string) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent ship events, oldest first:")
	for _, h := range history {
		b.WriteString("\n- ")
		b.WriteString(h)
	}
	return b.String()
}

// finish — общая постобработка ответа всех бэкендов.
func finish(backend, raw string) (string, error) {
	out := CleanResponse(raw)
	if out == "" {
		return "", wrap(backend, ErrEmptyResponse)
	}
	return out, nil
}
