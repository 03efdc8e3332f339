// Package admission fornece adapters (net/http e gRPC) para o engine de
// controle de admissão: rate limit por estratégia e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, fail-open, acquire/timeout)
//   - infra: implementações concretas (stores em memória e Redis, semáforos, stats)
//   - admission (este pacote): middlewares HTTP, interceptor gRPC, presets,
//     wiring/extração de chave e tradução para status/headers
//
// Fluxo por requisição:
//
//  1. Avalia o predicado de skip (bypass total se verdadeiro)
//  2. Deriva a chave do chamador (identidade > API key > IP)
//  3. Chama a camada application para obter a decisão
//  4. Emite os headers X-RateLimit-* (e os legados, se habilitados)
//  5. Se negado, responde 429 com Retry-After (ou delega ao Handler custom)
//  6. Se permitido, anexa a Decision ao contexto e chama o próximo handler
//
// Se o store de contadores estiver fora do ar a requisição passa (fail-open):
// disponibilidade vale mais que enforcement quebrado.
package admission
