package classifier

import (
	"EliteCompanion/internal/journal"
	"maps"
	"strings"
	"time"
)

// Event — классифицированное событие журнала.
type Event struct {
	Type      string
	Tier      Tier
	Summary   string
	Timestamp time.Time
	// Fields — поля исходной записи, только для чтения (обогащение промпта).
	Fields map[string]any `json:"-"`
}

type variant struct {
	when     func(journal.Record) bool // nil — подходит всегда
	tier     Tier
	template string // плейсхолдеры {Field}; пустой — общая сводка
}

// Classifier сопоставляет запись журнала уровню и сводке. Не хранит изменяемого состояния.
type Classifier struct {
	overrides map[string]Tier
}

// New создаёт классификатор. overrides заменяют уровень всех вариантов события,
// неизвестные события из overrides получают общую сводку.
func New(overrides map[string]Tier) *Classifier {
	return &Classifier{overrides: maps.Clone(overrides)}
}

// Classify — чистая функция от типа события и значений полей.
func (c *Classifier) Classify(rec journal.Record) Event {
	ev := Event{
		Type:      rec.Event,
		Tier:      Ignored,
		Summary:   genericSummary(rec.Event),
		Timestamp: rec.Timestamp,
		Fields:    rec.Fields,
	}
	for _, v := range table[rec.Event] {
		if v.when != nil && !v.when(rec) {
			continue
		}
		ev.Tier = v.tier
		if s, ok := render(v.template, rec); ok {
			ev.Summary = s
		}
		break
	}
	if t, ok := c.overrides[rec.Event]; ok {
		ev.Tier = t
	}
	return ev
}

// Known сообщает, есть ли событие в таблице или в переопределениях.
func (c *Classifier) Known(event string) bool {
	if _, ok := table[event]; ok {
		return true
	}
	_, ok := c.overrides[event]
	return ok
}

func genericSummary(event string) string {
	return "Event detected: " + DisplayName(event) + "."
}

// render подставляет поля записи в шаблон; false, если какого-то поля нет.
func render(tpl string, rec journal.Record) (string, bool) {
	if tpl == "" {
		return "", false
	}
	var b strings.Builder
	rest := tpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		b.WriteString(rest[:open])
		key := rest[open+1 : open+end]
		val, ok := rec.Text(key)
		if !ok || strings.TrimSpace(val) == "" {
			return "", false
		}
		b.WriteString(val)
		rest = rest[open+end+1:]
	}
}
