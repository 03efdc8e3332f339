package domain

// Camada de domínio do controle de admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Key string

// Strategy identifica o algoritmo de throttling. O conjunto é fechado:
// a seleção acontece uma única vez, na construção do store, nunca por
// requisição.
type Strategy string

const (
	FixedWindow   Strategy = "fixed_window"
	SlidingWindow Strategy = "sliding_window"
	TokenBucket   Strategy = "token_bucket"
	LeakyBucket   Strategy = "leaky_bucket"
)

// Valid informa se a estratégia pertence ao conjunto suportado.
func (s Strategy) Valid() bool {
	switch s {
	case FixedWindow, SlidingWindow, TokenBucket, LeakyBucket:
		return true
	}
	return false
}

// Caller carrega o que a camada de transporte sabe sobre quem está pedindo
// admissão. Os campos são genéricos de propósito: servem para HTTP, gRPC, etc.
//
// Identity é o principal autenticado (quando houver), APIKey a credencial de
// API e SourceAddr o endereço de origem já sem porta.
type Caller struct {
	Identity   string
	APIKey     string
	SourceAddr string

	Method string
	Path   string
}

// Decision é o resultado imutável de um incremento no store.
//
// Invariantes: Current >= 0, Remaining == max(0, Limit-Current) e
// ResetTime nunca no passado em relação ao instante do incremento.
type Decision struct {
	Limit     int
	Current   int
	Remaining int
	ResetTime time.Time
	TotalHits int

	// Counted indica se o hit ficou registrado no estado da chave. Algumas
	// estratégias desfazem o hit negado na hora (sliding window) ou nem
	// chegam a consumir nada (token bucket); nesses casos não existe débito
	// para um Decrement posterior estornar.
	Counted bool
}

// NewDecision monta uma Decision aplicando as invariantes de Remaining.
func NewDecision(limit, current int, resetTime time.Time) Decision {
	if current < 0 {
		current = 0
	}
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Limit:     limit,
		Current:   current,
		Remaining: remaining,
		ResetTime: resetTime,
		TotalHits: current,
		Counted:   true,
	}
}

// CounterStore é o contrato de armazenamento de contadores por chave.
//
// Increment precisa ser atômico em relação a qualquer outro chamador
// concorrente da mesma chave: nada de updates perdidos nem contagem dupla.
// A estratégia é fixada na construção do store; o chamador só enxerga a
// Decision resultante.
//
// Decrement é compensação best-effort (usado por skip de sucesso/falha):
// se a janela da chave já rotacionou ou expirou, vira no-op, nunca erro.
//
// Reset zera o estado da chave independente da estratégia.
type CounterStore interface {
	Increment(ctx context.Context, key Key) (Decision, error)
	Decrement(ctx context.Context, key Key) error
	Reset(ctx context.Context, key Key) error
}
