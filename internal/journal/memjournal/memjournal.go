package memjournal

import (
	"context"
	"sync"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal"
)

const defaultCapacity = 256

// Store хранит последние записи в памяти (кольцевой буфер). Используется в тестах и для сухих прогонов.
type Store struct {
	mu       sync.Mutex
	capacity int
	entries  []journal.Entry
}

// New создаёт журнал на capacity записей; capacity <= 0 означает значение по умолчанию.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{capacity: capacity}
}

func (s *Store) Record(ctx context.Context, entry journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.Readings = append(entry.Readings[:0:0], entry.Readings...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == s.capacity {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Entries возвращает копию сохранённых записей, от старых к новым.
func (s *Store) Entries() []journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.Entry(nil), s.entries...)
}

func (s *Store) Close() {}
