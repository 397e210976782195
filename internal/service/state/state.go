package state

import "sync"

// State — потокобезопасный буфер фиксированной ёмкости: последние события для контекста модели и статуса.
type State[T any] struct {
	cap    int
	items  []T
	mu     sync.Mutex
	notify chan struct{}
}

func New[T any](capacity int) *State[T] {
	if capacity <= 0 {
		capacity = 20
	}
	return &State[T]{cap: capacity, items: make([]T, 0, capacity), notify: make(chan struct{}, 1)}
}

// Add добавляет элемент, при переполнении удаляет самый старый.
func (s *State[T]) Add(v T) {
	s.mu.Lock()
	if len(s.items) == s.cap {
		copy(s.items, s.items[1:])
		s.items = s.items[:s.cap-1]
	}
	s.items = append(s.items, v)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Snapshot возвращает копию содержимого, от старых к новым. Буфер не меняется.
func (s *State[T]) Snapshot() []T {
	s.mu.Lock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	s.mu.Unlock()
	return out
}

// Drain возвращает все элементы и очищает буфер.
func (s *State[T]) Drain() []T {
	s.mu.Lock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	s.items = s.items[:0]
	s.mu.Unlock()
	return out
}

func (s *State[T]) Len() int {
	s.mu.Lock()
	l := len(s.items)
	s.mu.Unlock()
	return l
}

// NotifyCh сигналит (без накопления) о каждом Add.
func (s *State[T]) NotifyCh() <-chan struct{} { return s.notify }
