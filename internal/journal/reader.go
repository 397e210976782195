package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DefaultPattern = "Journal.*.log"

// Checkpoint — позиция чтения: файл и смещение сразу после последней полной строки.
type Checkpoint struct {
	File   string
	Offset int64
}

// Reader следит за активным файлом журнала и отдаёт новые полные строки.
// Run вызывается из одной горутины; Checkpoint и ParseErrors безопасны из любых.
type Reader struct {
	dir         string
	pattern     string
	poll        time.Duration
	maxFailures int
	backoff     time.Duration
	backoffMax  time.Duration
	resume      *Checkpoint
	logger      *zap.SugaredLogger

	parseErrors atomic.Int64
	mu          sync.Mutex
	cp          Checkpoint

	// состояние текущего файла, принадлежит горутине Run
	file    string
	offset  int64
	partial []byte
	retired map[string]struct{}
}

type Option func(*Reader)

func WithPattern(p string) Option { return func(r *Reader) { r.pattern = p } }

func WithPollInterval(d time.Duration) Option { return func(r *Reader) { r.poll = d } }

// WithMaxFailures задаёт число ошибок подряд, после которого Run возвращает WatcherFailure.
func WithMaxFailures(n int) Option { return func(r *Reader) { r.maxFailures = n } }

// WithBackoff задаёт начальную и максимальную паузу между повторами после ошибки.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(r *Reader) {
		r.backoff = initial
		r.backoffMax = maxDelay
	}
}

// WithResume продолжает чтение с сохранённой позиции вместо конца файла.
func WithResume(cp Checkpoint) Option {
	return func(r *Reader) {
		if cp.File != "" {
			r.resume = &cp
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option { return func(r *Reader) { r.logger = l } }

func New(dir string, opts ...Option) *Reader {
	r := &Reader{
		dir:         dir,
		pattern:     DefaultPattern,
		poll:        250 * time.Millisecond,
		maxFailures: 10,
		backoff:     500 * time.Millisecond,
		backoffMax:  10 * time.Second,
		logger:      zap.NewNop().Sugar(),
		retired:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.pattern == "" {
		r.pattern = DefaultPattern
	}
	if r.poll <= 0 {
		r.poll = 250 * time.Millisecond
	}
	r.maxFailures = max(1, r.maxFailures)
	if r.backoff <= 0 {
		r.backoff = r.poll
	}
	r.backoffMax = max(r.backoff, r.backoffMax)
	return r
}

// Checkpoint возвращает позицию после последней отданной строки.
func (r *Reader) Checkpoint() Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cp
}

// ParseErrors — сколько строк не удалось разобрать.
func (r *Reader) ParseErrors() int64 { return r.parseErrors.Load() }

// Run опрашивает журнал до отмены контекста (возвращает nil) или до исчерпания
// лимита ошибок ввода-вывода подряд (возвращает *WatcherFailure).
func (r *Reader) Run(ctx context.Context, out chan<- Entry) error {
	started := false
	failures := 0
	delay := r.poll

	r.logger.Infow("Journal reader started", "dir", r.dir, "pattern", r.pattern, "poll", r.poll.String())
	for {
		var err error
		if !started {
			if err = r.start(); err == nil {
				started = true
			}
		}
		if started && err == nil {
			err = r.pollOnce(ctx, out)
		}

		if ctx.Err() != nil {
			r.logger.Infow("Journal reader stopped", "checkpoint", r.Checkpoint())
			return nil
		}

		if err != nil {
			failures++
			r.logger.Warnw("Journal poll failed", "error", err, "consecutiveErrors", failures)
			if failures >= r.maxFailures {
				r.logger.Errorw("Stopping due to consecutive errors threshold", "threshold", r.maxFailures)
				return &WatcherFailure{Dir: r.dir, Failures: failures, Err: err}
			}
			delay = r.backoffFor(failures)
		} else {
			failures = 0
			delay = r.poll
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.logger.Infow("Journal reader stopped", "checkpoint", r.Checkpoint())
			return nil
		case <-t.C:
		}
	}
}

// backoffFor — экспоненциальная пауза, ограниченная backoffMax.
func (r *Reader) backoffFor(failures int) time.Duration {
	d := r.backoff
	for range failures - 1 {
		d *= 2
		if d >= r.backoffMax {
			return r.backoffMax
		}
	}
	return d
}

// start выбирает активный файл и начальную позицию.
func (r *Reader) start() error {
	latest, err := r.latest()
	if err != nil {
		return err
	}
	if latest == "" {
		// Файла ещё нет: первый появившийся читаем с начала
		r.logger.Infow("No journal file yet, waiting", "dir", r.dir)
		return nil
	}

	fi, err := os.Stat(latest)
	if err != nil {
		return err
	}
	r.file = latest
	r.offset = fi.Size()

	if cp := r.resume; cp != nil && sameFile(cp.File, latest) {
		if cp.Offset > fi.Size() {
			r.logger.Warnw("Checkpoint beyond file size, reading from start", "file", latest, "offset", cp.Offset, "size", fi.Size())
			r.offset = 0
		} else {
			r.offset = max(0, cp.Offset)
		}
		r.logger.Infow("Resuming journal", "file", latest, "offset", r.offset)
	} else if cp != nil {
		r.logger.Infow("Checkpoint refers to another file, tailing latest", "checkpoint", cp.File, "file", latest)
	}
	r.setCheckpoint(r.file, r.offset)
	return nil
}

func (r *Reader) pollOnce(ctx context.Context, out chan<- Entry) error {
	latest, err := r.latest()
	if err != nil {
		return err
	}
	if latest == "" {
		return nil
	}
	if r.file == "" {
		r.file = latest
		r.offset = 0
		r.partial = nil
		r.logger.Infow("Journal file appeared", "file", latest)
	}

	if latest != r.file {
		// Дочитываем старый файл; незавершённый хвост выбрасываем
		if err := r.readAvailable(ctx, out); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if len(r.partial) > 0 {
			r.logger.Warnw("Dropping incomplete line on rotation", "file", r.file, "bytes", len(r.partial))
		}
		r.logger.Infow("Journal rotated", "from", r.file, "to", latest)
		r.retired[r.file] = struct{}{}
		if !send(ctx, out, Entry{Kind: EntryRotation, File: latest}) {
			return nil
		}
		r.file = latest
		r.offset = 0
		r.partial = nil
		r.setCheckpoint(r.file, 0)
	}

	return r.readAvailable(ctx, out)
}

// readAvailable читает всё, что дописано после текущей позиции. Дескриптор живёт только один цикл.
func (r *Reader) readAvailable(ctx context.Context, out chan<- Entry) error {
	f, err := os.Open(r.file)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	pos := r.offset + int64(len(r.partial))
	if fi.Size() < pos {
		r.logger.Warnw("Journal truncated, reading from start", "file", r.file, "size", fi.Size(), "offset", pos)
		r.offset = 0
		r.partial = nil
		pos = 0
	}
	if fi.Size() == pos {
		return nil
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("journal: read %s: %w", r.file, err)
	}

	buf := append(r.partial, data...)
	r.partial = nil
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(buf[:idx], "\r")
		start := r.offset
		if len(bytes.TrimSpace(line)) > 0 {
			rec, perr := ParseRecord(line)
			if perr != nil {
				r.parseErrors.Add(1)
				r.logger.Warnw("Skipping malformed journal line", "file", r.file, "offset", start, "error", perr)
			} else {
				rec.File = r.file
				rec.Offset = start
				if !send(ctx, out, Entry{Kind: EntryRecord, Record: rec}) {
					// Строка не отдана: позиция остаётся на её начале
					return nil
				}
			}
		}
		r.offset += int64(idx + 1)
		r.setCheckpoint(r.file, r.offset)
		buf = buf[idx+1:]
	}
	if len(buf) > 0 {
		r.partial = bytes.Clone(buf)
	}
	return nil
}

// latest возвращает самый свежий по mtime файл журнала (пустая строка, если файлов нет).
func (r *Reader) latest() (string, error) {
	if _, err := os.Stat(r.dir); err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(r.dir, r.pattern))
	if err != nil {
		return "", err
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		if _, done := r.retired[m]; done {
			continue
		}
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		mod := fi.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && m > best) {
			best, bestMod = m, mod
		}
	}
	// Текущий файл не уступает место файлу с тем же временем модификации
	if r.file != "" && best != r.file {
		if fi, err := os.Stat(r.file); err == nil && !bestMod.After(fi.ModTime()) {
			return r.file, nil
		}
	}
	return best, nil
}

func (r *Reader) setCheckpoint(file string, offset int64) {
	r.mu.Lock()
	r.cp = Checkpoint{File: file, Offset: offset}
	r.mu.Unlock()
}

func send(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func sameFile(a, b string) bool {
	return filepath.Base(a) == filepath.Base(b)
}
