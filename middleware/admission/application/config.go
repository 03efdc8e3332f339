package application

import (
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Defaults documentados do engine. Valores zero na Config significam
// "use o default"; inválido mesmo é valor negativo ou estratégia fora do
// conjunto, e isso é rejeitado na construção (ConfigError), antes de servir
// qualquer tráfego.
const (
	DefaultMax          = 100
	DefaultWindow       = 15 * time.Minute
	DefaultStrategy     = domain.SlidingWindow
	DefaultStoreTimeout = 500 * time.Millisecond
)

// DefaultMessage é a mensagem de negação quando o chamador não define outra.
const DefaultMessage = "too many requests, please try again later"

// Config agrega os parâmetros do serviço de admissão. Depois de construído
// o Service, a config é imutável.
type Config struct {
	Max      int
	Window   time.Duration
	Strategy domain.Strategy
	Message  string

	// DisableHeaders desliga o trio X-RateLimit-* (ligado por padrão).
	// LegacyHeaders liga o trio X-Rate-Limit-* adicional.
	DisableHeaders bool
	LegacyHeaders  bool

	// SkipSuccessful não conta requisições bem sucedidas (decrementa depois
	// do handler). SkipFailed faz o mesmo para falhas, incluindo a própria
	// negação por limite.
	SkipSuccessful bool
	SkipFailed     bool

	// KeyFunc deriva a chave de admissão do chamador. Default:
	// identidade > API key > endereço de origem > "unknown".
	KeyFunc func(domain.Caller) domain.Key

	// Skip ignora o limiter por completo quando retorna true.
	Skip func(domain.Caller) bool

	// StoreTimeout limita cada operação no store; estouro conta como falha
	// de store e cai no fail-open.
	StoreTimeout time.Duration

	Store domain.CounterStore
}

// withDefaults devolve a config com os campos zero preenchidos.
// O store default (memória) é responsabilidade da camada adapter, que
// conhece o pacote infra.
func (c Config) withDefaults() Config {
	if c.Max == 0 {
		c.Max = DefaultMax
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	if c.KeyFunc == nil {
		c.KeyFunc = DefaultKey
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.Max < 0 {
		return &domain.ConfigError{Field: "max", Reason: "must be positive"}
	}
	if c.Window < 0 {
		return &domain.ConfigError{Field: "window", Reason: "must be positive"}
	}
	if c.StoreTimeout < 0 {
		return &domain.ConfigError{Field: "storeTimeout", Reason: "must be positive"}
	}
	if !c.Strategy.Valid() {
		return &domain.ConfigError{Field: "strategy", Reason: "unknown strategy " + string(c.Strategy)}
	}
	if c.Store == nil {
		return &domain.ConfigError{Field: "store", Reason: "counter store is required"}
	}
	return nil
}

// DefaultKey deriva a chave de admissão com a precedência
// identidade autenticada > API key > endereço de origem, caindo no balde
// literal "unknown" quando nada resolve.
func DefaultKey(c domain.Caller) domain.Key {
	if c.Identity != "" {
		return domain.Key("id:" + c.Identity)
	}
	if c.APIKey != "" {
		return domain.Key("key:" + c.APIKey)
	}
	if c.SourceAddr != "" {
		return domain.Key("ip:" + c.SourceAddr)
	}
	return domain.Key("unknown")
}
