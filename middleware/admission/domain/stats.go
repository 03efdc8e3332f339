package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão já tomada.
//
// Ele é propositalmente "agnóstico de transporte": Method/Path são strings
// genéricas e funcionam para HTTP, gRPC, etc.
//
// Observação: cuidado com cardinalidade (registrar Key/Path sem controle pode
// explodir o número de séries/chaves em Redis ou Prometheus).
type StatsEvent struct {
	Key      Key
	Strategy Strategy
	Allowed  bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O chamador deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
