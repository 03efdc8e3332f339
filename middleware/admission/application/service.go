package application

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"admission-gateway/middleware/admission/domain"
)

// Service concentra a regra de aplicação do controle de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status): recebe um Caller, devolve
// um Result. Cada decisão é função pura do estado acumulado no store e do
// relógio; o Service não guarda estado entre requisições.
type Service struct {
	cfg Config
	log *slog.Logger

	// falha de store pode acontecer milhares de vezes por segundo com o
	// backend fora; o warn é amostrado para não afogar o log
	warnEvery *rate.Sometimes
}

// NewService valida a config (fatal se inválida) e constrói o serviço.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		log:       logger,
		warnEvery: &rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}, nil
}

// Config devolve a configuração já com defaults aplicados.
func (s *Service) Config() Config { return s.cfg }

// Result é o desfecho de uma passagem pelo engine.
type Result struct {
	Allowed bool
	// Skipped indica bypass pelo predicado Skip: sem chave, sem Decision,
	// sem headers.
	Skipped bool
	// FailedOpen indica que o store falhou e a requisição passou pela
	// política de fail-open; a Decision é vazia.
	FailedOpen bool

	Key      domain.Key
	Decision domain.Decision

	// Denial é não-nulo quando o limite estourou; carrega o necessário
	// para a camada de transporte montar o 429 com Retry-After.
	Denial *domain.LimitExceededError
}

// Decide avalia o predicado de skip, deriva a chave e decide.
func (s *Service) Decide(ctx context.Context, caller domain.Caller) Result {
	if s.cfg.Skip != nil && s.cfg.Skip(caller) {
		return Result{Allowed: true, Skipped: true}
	}
	return s.DecideKey(ctx, s.cfg.KeyFunc(caller))
}

// DecideKey incrementa o contador da chave e aplica a política de decisão.
//
// Disponibilidade vence enforcement quebrado: se o store falhar ou estourar
// o timeout, loga o aviso e admite (fail-open). Isso nunca mascara erro de
// configuração, que já teria sido fatal em NewService.
func (s *Service) DecideKey(ctx context.Context, key domain.Key) Result {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	dec, err := s.cfg.Store.Increment(opCtx, key)
	if err != nil {
		s.warnStore("increment", key, err)
		return Result{Allowed: true, FailedOpen: true, Key: key}
	}

	if dec.Current > dec.Limit {
		return Result{
			Key:      key,
			Decision: dec,
			Denial: &domain.LimitExceededError{
				Limit:     dec.Limit,
				Current:   dec.Current,
				ResetTime: dec.ResetTime,
				Message:   s.cfg.Message,
			},
		}
	}

	return Result{Allowed: true, Key: key, Decision: dec}
}

// Decrement desconta um hit da chave, best-effort. Usado pelos skips de
// sucesso/falha depois que o desfecho da requisição é conhecido.
func (s *Service) Decrement(ctx context.Context, key domain.Key) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.cfg.Store.Decrement(opCtx, key); err != nil {
		s.warnStore("decrement", key, err)
	}
}

// Reset zera o estado da chave, independente da estratégia.
func (s *Service) Reset(ctx context.Context, key domain.Key) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	return s.cfg.Store.Reset(opCtx, key)
}

func (s *Service) warnStore(op string, key domain.Key, err error) {
	if !domain.IsStoreError(err) {
		err = &domain.StoreError{Op: op, Key: key, Err: err}
	}
	s.warnEvery.Do(func() {
		s.log.Warn("admission store failure, failing open", "op", op, "error", err)
	})
}
