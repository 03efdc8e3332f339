package domain

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError indica configuração inválida detectada na construção do limiter.
// É fatal: nenhum tráfego deve ser servido com config inválida.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("admission: invalid config %s: %s", e.Field, e.Reason)
}

// StoreError indica falha do backend de contadores (indisponível, timeout).
// É recuperado localmente pela orquestração (fail-open), nunca propagado
// como erro fatal ao chamador.
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("admission: store %s %q: %v", e.Op, string(e.Key), e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError informa se err (ou algo na cadeia) é uma falha de store.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// LimitExceededError é o sinal tipado de negação. Não é um bug: é o resultado
// esperado quando o chamador estourou o limite. Carrega dados suficientes para
// a camada de transporte montar uma resposta 429 com Retry-After.
type LimitExceededError struct {
	Limit     int
	Current   int
	ResetTime time.Time
	Message   string
}

func (e *LimitExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("admission: limit of %d exceeded (current %d)", e.Limit, e.Current)
}

// RetryAfter calcula quanto tempo falta até a próxima tentativa fazer sentido.
// Nunca retorna menos que 1s para não induzir retry imediato.
func (e *LimitExceededError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetTime.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// IsLimitExceeded informa se err representa uma negação por limite.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
