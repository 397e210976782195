package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Числа оставляем как json.Number, чтобы не терять точность кредитов и id.
var decoder = sonic.Config{UseNumber: true}.Froze()

// Record — одна строка журнала: обязательные timestamp и event плюс все остальные поля как есть.
type Record struct {
	Timestamp time.Time
	Event     string
	Fields    map[string]any
	File      string // файл, из которого прочитана строка
	Offset    int64  // смещение начала строки в файле
}

// EntryKind различает обычные записи и маркер смены файла.
type EntryKind int

const (
	EntryRecord EntryKind = iota
	EntryRotation
)

// Entry — элемент потока Reader.Run: либо запись, либо маркер ротации.
type Entry struct {
	Kind   EntryKind
	Record Record
	File   string // для EntryRotation — путь нового файла
}

// ErrNoEvent — в строке нет поля event.
var ErrNoEvent = errors.New("journal: record has no event field")

// ParseRecord разбирает одну строку журнала (без завершающего \n).
func ParseRecord(line []byte) (Record, error) {
	var fields map[string]any
	if err := decoder.Unmarshal(line, &fields); err != nil {
		return Record{}, fmt.Errorf("journal: decode line: %w", err)
	}
	if fields == nil {
		return Record{}, ErrNoEvent
	}
	ev, _ := fields["event"].(string)
	if strings.TrimSpace(ev) == "" {
		return Record{}, ErrNoEvent
	}
	rec := Record{Event: ev, Fields: fields}
	if ts, ok := fields["timestamp"].(string); ok {
		// Битый timestamp не повод терять событие
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.Timestamp = t
		}
	}
	return rec, nil
}

// Has сообщает, есть ли поле в записи.
func (r Record) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// Text возвращает строковое представление поля; второе значение false, если поля нет.
func (r Record) Text(key string) (string, bool) {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// Float возвращает числовое поле.
func (r Record) Float(key string) (float64, bool) {
	switch t := r.Fields[key].(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int возвращает целочисленное поле (дробная часть отбрасывается).
func (r Record) Int(key string) (int64, bool) {
	if n, ok := r.Fields[key].(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := r.Float(key)
	return int64(f), ok
}

// Bool возвращает логическое поле.
func (r Record) Bool(key string) (bool, bool) {
	b, ok := r.Fields[key].(bool)
	return b, ok
}
