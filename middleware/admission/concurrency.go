package admission

import (
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

// ConcurrencyOptions configura o teto de requisições em voo. Max limita o
// processo inteiro; MaxPerKey limita cada chave de admissão. Zero desliga o
// teto correspondente.
type ConcurrencyOptions struct {
	Max       int
	MaxPerKey int

	// KeyFn deriva a chave dos pools por chave. Default: endereço de origem.
	KeyFn              KeyFunc
	TrustXForwardedFor bool

	// AcquireTimeout limita a espera por vaga; cobre os dois tetos juntos.
	// Zero espera até o contexto da requisição cancelar.
	AcquireTimeout time.Duration

	// RejectStatus é o status quando não há vaga. Default 503.
	RejectStatus int
}

// ConcurrencyMiddleware devolve um middleware que segura a requisição até
// haver vaga (ou rejeita no timeout). Com ambos os tetos zerados, o
// middleware é um passthrough.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(http.Handler) http.Handler {
	if opts.Max <= 0 && opts.MaxPerKey <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := application.ConcurrencyService{AcquireTimeout: opts.AcquireTimeout}
	if opts.Max > 0 {
		svc.Pool = infra.NewChanPool(opts.Max)
	}
	if opts.MaxPerKey > 0 {
		svc.Keyed = infra.NewKeyedChanPool(opts.MaxPerKey)
	}

	keyOf := func(r *http.Request) domain.Key {
		if opts.KeyFn != nil {
			return domain.Key(opts.KeyFn(r))
		}
		return domain.Key("ip:" + clientAddr(r, opts.TrustXForwardedFor))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context(), keyOf(r))
			if !ok {
				http.Error(w, "server is busy, please try again later", opts.RejectStatus)
				return
			}
			defer release()
			next.ServeHTTP(w, r)
		})
	}
}
