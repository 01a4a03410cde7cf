package repository

import (
	"context"
	"sync"

	"example.com/studentverse/services/svpay/internal/domain"
)

// memoryEntry - интент под собственным мьютексом.
type memoryEntry struct {
	mu     sync.Mutex
	intent *domain.PaymentIntent
}

// MemoryRepository хранит интенты в памяти процесса.
// Переходы блокируют только свою запись; Reset берёт resetMu на запись и ждёт,
// пока завершатся начатые операции, поэтому не пересекается ни с одной из них.
type MemoryRepository struct {
	resetMu sync.RWMutex
	intents sync.Map // id -> *memoryEntry
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

var _ IntentRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Create(_ context.Context, intent *domain.PaymentIntent) error {
	r.resetMu.RLock()
	defer r.resetMu.RUnlock()

	entry := &memoryEntry{intent: intent.Clone()}
	if _, loaded := r.intents.LoadOrStore(intent.ID, entry); loaded {
		return domain.ErrDuplicateIntent
	}
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.PaymentIntent, error) {
	r.resetMu.RLock()
	defer r.resetMu.RUnlock()

	entry, ok := r.load(id)
	if !ok {
		return nil, domain.ErrIntentNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.intent.Clone(), nil
}

func (r *MemoryRepository) Transition(_ context.Context, id string, to domain.IntentStatus) (*domain.PaymentIntent, error) {
	r.resetMu.RLock()
	defer r.resetMu.RUnlock()

	entry, ok := r.load(id)
	if !ok {
		return nil, domain.ErrIntentNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Меняем копию, чтобы при ошибке запись осталась нетронутой
	next := entry.intent.Clone()
	if err := next.TransitionTo(to); err != nil {
		return nil, err
	}
	entry.intent = next

	return next.Clone(), nil
}

func (r *MemoryRepository) Reset(_ context.Context) error {
	r.resetMu.Lock()
	defer r.resetMu.Unlock()

	r.intents.Range(func(key, _ any) bool {
		r.intents.Delete(key)
		return true
	})
	return nil
}

// Len возвращает количество интентов.
func (r *MemoryRepository) Len() int {
	r.resetMu.RLock()
	defer r.resetMu.RUnlock()

	n := 0
	r.intents.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *MemoryRepository) load(id string) (*memoryEntry, bool) {
	v, ok := r.intents.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*memoryEntry), true
}
