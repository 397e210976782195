package journal

import (
	"errors"
	"fmt"
)

// ErrWatcherFailure — терминальная ошибка наблюдения за журналом.
var ErrWatcherFailure = errors.New("journal: watcher failure")

// WatcherFailure возвращается из Run, когда подряд случилось MaxFailures ошибок ввода-вывода.
type WatcherFailure struct {
	Dir      string
	Failures int
	Err      error // последняя ошибка
}

func (e *WatcherFailure) Error() string {
	return fmt.Sprintf("journal: watcher failed after %d consecutive errors in %q: %v", e.Failures, e.Dir, e.Err)
}

func (e *WatcherFailure) Unwrap() []error { return []error{ErrWatcherFailure, e.Err} }
