package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryStore é um domain.CounterStore local, baseado em map por chave.
//
// Correto apenas dentro de um único processo: instâncias diferentes do
// serviço não enxergam os contadores umas das outras. Para deploy com mais
// de uma réplica use o RedisStore. Como o runtime Go é multi-thread, o
// acesso ao estado é serializado por mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[domain.Key]*memoryEntry

	alg          memoryAlgorithm
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

// memoryEntry guarda o estado por chave. Só os campos da estratégia do store
// são usados; o resto fica zerado.
type memoryEntry struct {
	windowStart time.Time
	count       int

	events []time.Time

	tokens    int
	volume    float64
	stampedAt time.Time

	started  bool
	lastSeen time.Time
}

type MemoryOption func(*MemoryStore)

func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

// WithClock troca a fonte de tempo. Existe para testes determinísticos.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore cria um store local para a estratégia dada.
//
// O algoritmo é selecionado uma única vez aqui; o caminho quente de
// Increment não faz dispatch por string. idleTTL padrão é 2x a janela,
// o suficiente para estados de bucket decaírem antes da remoção.
func NewMemoryStore(strategy domain.Strategy, max int, window time.Duration, opts ...MemoryOption) (*MemoryStore, error) {
	if max <= 0 {
		return nil, &domain.ConfigError{Field: "max", Reason: "must be positive"}
	}
	if window <= 0 {
		return nil, &domain.ConfigError{Field: "window", Reason: "must be positive"}
	}

	s := &MemoryStore{
		entries:      make(map[domain.Key]*memoryEntry),
		idleTTL:      2 * window,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}

	switch strategy {
	case domain.FixedWindow:
		s.alg = fixedWindowAlg{max: max, window: window}
	case domain.SlidingWindow:
		s.alg = slidingWindowAlg{max: max, window: window}
	case domain.TokenBucket:
		s.alg = tokenBucketAlg{max: max, window: window}
	case domain.LeakyBucket:
		s.alg = leakyBucketAlg{max: max, window: window}
	default:
		return nil, &domain.ConfigError{Field: "strategy", Reason: "unknown strategy " + string(strategy)}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Increment implementa domain.CounterStore. Nunca retorna erro: o backend é
// o próprio processo.
func (s *MemoryStore) Increment(_ context.Context, key domain.Key) (domain.Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &memoryEntry{}
		s.entries[key] = ent
	}
	ent.lastSeen = now

	return s.alg.hit(ent, now), nil
}

// Decrement desconta um hit da chave, best-effort. Se a janela já rotacionou
// ou a chave não existe mais, não faz nada.
func (s *MemoryStore) Decrement(_ context.Context, key domain.Key) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		s.alg.unhit(ent, now)
	}
	return nil
}

// Reset descarta todo o estado da chave, independente da estratégia.
func (s *MemoryStore) Reset(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len retorna o número de chaves rastreadas. Útil em testes e monitoração.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("admission memory store cleanup", "removed_keys", removed, "remaining_keys", len(s.entries))
	}
}

// StartJanitor inicia uma goroutine que remove chaves inativas
// periodicamente. Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

var _ domain.CounterStore = (*MemoryStore)(nil)
