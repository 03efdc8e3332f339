package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com
// timeout, sem saber nada sobre HTTP. Suporta um teto global, um teto por
// chave de admissão, ou os dois ao mesmo tempo.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	Keyed          domain.KeyedSlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir vaga no teto global e depois no teto da chave.
//   - Se AcquireTimeout <= 0, espera indefinidamente (até ctx cancelar).
//   - Se AcquireTimeout > 0, o timeout cobre as duas aquisições juntas.
//
// Retorna (release, ok). Se ok=false, nenhuma vaga ficou retida.
func (s ConcurrencyService) Acquire(ctx context.Context, key domain.Key) (func(), bool) {
	if s.Pool == nil && s.Keyed == nil {
		return func() {}, true
	}

	if s.AcquireTimeout > 0 {
		acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
		ctx = acqCtx
	}

	releaseGlobal := func() {}
	if s.Pool != nil {
		rel, ok := s.Pool.Acquire(ctx)
		if !ok {
			return nil, false
		}
		releaseGlobal = rel
	}

	if s.Keyed != nil {
		rel, ok := s.Keyed.Pool(key).Acquire(ctx)
		if !ok {
			releaseGlobal()
			return nil, false
		}
		return func() { rel(); releaseGlobal() }, true
	}

	return releaseGlobal, true
}
