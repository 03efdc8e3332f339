package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool simples baseado em channel com capacidade max.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// KeyedChanPool entrega um pool por chave de admissão, criado sob demanda,
// todos com a mesma capacidade.
//
// Os pools não são descartados: a cardinalidade esperada é a mesma dos
// contadores de rate limit, então vale o mesmo cuidado com chaves derivadas
// de entrada não confiável.
type KeyedChanPool struct {
	mu    sync.Mutex
	pools map[domain.Key]domain.SlotPool
	max   int
}

func NewKeyedChanPool(maxPerKey int) *KeyedChanPool {
	return &KeyedChanPool{
		pools: make(map[domain.Key]domain.SlotPool),
		max:   maxPerKey,
	}
}

// Pool implementa domain.KeyedSlotPool.
func (k *KeyedChanPool) Pool(key domain.Key) domain.SlotPool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if p, ok := k.pools[key]; ok {
		return p
	}
	p := NewChanPool(k.max)
	k.pools[key] = p
	return p
}

// Len retorna o número de pools criados. Útil em testes.
func (k *KeyedChanPool) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pools)
}

var _ domain.KeyedSlotPool = (*KeyedChanPool)(nil)
