// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: contadores por chave em memória, uma estratégia por store
//   - RedisStore: contadores compartilhados entre instâncias via Redis
//   - NewChanPool/KeyedChanPool: semáforos para limite de concorrência
//   - StatsStore em memória, Redis e Prometheus
package infra
