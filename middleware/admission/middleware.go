package admission

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

// KeyFunc deriva a chave de admissão direto da requisição HTTP. Quando
// definida em Options, substitui a derivação padrão por Caller.
type KeyFunc func(r *http.Request) string

// SkipFunc decide bypass total do limiter para a requisição.
type SkipFunc func(r *http.Request) bool

// DenyHandler recebe o controle quando a requisição é negada. Os headers de
// rate limit e o Retry-After já foram escritos; o handler só precisa montar
// o corpo/status da resposta.
type DenyHandler func(w http.ResponseWriter, r *http.Request, denial *domain.LimitExceededError)

// KeyBy seleciona uma derivação de chave pré-definida, útil nos presets.
type KeyBy string

const (
	// KeyByDefault usa a precedência identidade > API key > IP.
	KeyByDefault KeyBy = ""
	// KeyBySource agrupa só pelo endereço de origem.
	KeyBySource KeyBy = "source"
	// KeyByIdentity agrupa só pela identidade autenticada.
	KeyByIdentity KeyBy = "identity"
)

// Options configura o limiter. O valor zero é utilizável: store em memória,
// estratégia sliding window, 100 requisições por 15 minutos, chave por
// identidade/API key/IP.
type Options struct {
	Max      int
	Window   time.Duration
	Strategy domain.Strategy
	Message  string

	// Store de contadores. Se nulo, um MemoryStore local é criado com os
	// mesmos Max/Window/Strategy. Um store externo precisa ter sido criado
	// com parâmetros equivalentes.
	Store domain.CounterStore

	// Stats recebe um evento por decisão, best-effort. Opcional.
	Stats domain.StatsStore

	// KeyBy escolhe uma derivação pré-definida; KeyFn sobrescreve qualquer
	// derivação com uma função arbitrária sobre a requisição.
	KeyBy KeyBy
	KeyFn KeyFunc

	// KeyHeader é o header de API key lido na derivação padrão.
	// Default "X-Api-Key".
	KeyHeader string

	// TrustXForwardedFor usa o primeiro endereço do X-Forwarded-For como
	// origem. Só ligue atrás de proxy que reescreve o header.
	TrustXForwardedFor bool

	Skip SkipFunc

	DisableHeaders bool
	LegacyHeaders  bool
	SkipSuccessful bool
	SkipFailed     bool

	// RejectStatus é o status da negação. Default 429.
	RejectStatus int

	// Handler customiza a resposta de negação.
	Handler DenyHandler

	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Limiter é o limiter pronto para uso, compartilhável entre o middleware
// HTTP e o interceptor gRPC.
type Limiter struct {
	svc   *application.Service
	opts  Options
	stats domain.StatsStore
}

// New valida as opções e constrói o limiter. Erro aqui é erro de
// configuração: trate como fatal na subida do processo.
func New(opts Options) (*Limiter, error) {
	if opts.KeyHeader == "" {
		opts.KeyHeader = "X-Api-Key"
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}

	cfg := application.Config{
		Max:            opts.Max,
		Window:         opts.Window,
		Strategy:       opts.Strategy,
		Message:        opts.Message,
		DisableHeaders: opts.DisableHeaders,
		LegacyHeaders:  opts.LegacyHeaders,
		SkipSuccessful: opts.SkipSuccessful,
		SkipFailed:     opts.SkipFailed,
		Skip:           nil,
		StoreTimeout:   opts.StoreTimeout,
		Store:          opts.Store,
	}

	switch opts.KeyBy {
	case KeyByDefault:
	case KeyBySource:
		cfg.KeyFunc = func(c domain.Caller) domain.Key {
			if c.SourceAddr == "" {
				return domain.Key("unknown")
			}
			return domain.Key("ip:" + c.SourceAddr)
		}
	case KeyByIdentity:
		cfg.KeyFunc = func(c domain.Caller) domain.Key {
			if c.Identity == "" {
				return domain.Key("unknown")
			}
			return domain.Key("id:" + c.Identity)
		}
	default:
		return nil, &domain.ConfigError{Field: "keyBy", Reason: "unknown key derivation " + string(opts.KeyBy)}
	}

	if cfg.Store == nil {
		max, window, strategy := opts.Max, opts.Window, opts.Strategy
		if max == 0 {
			max = application.DefaultMax
		}
		if window == 0 {
			window = application.DefaultWindow
		}
		if strategy == "" {
			strategy = application.DefaultStrategy
		}
		store, err := infra.NewMemoryStore(strategy, max, window)
		if err != nil {
			return nil, err
		}
		cfg.Store = store
	}

	svc, err := application.NewService(cfg, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Limiter{svc: svc, opts: opts, stats: opts.Stats}, nil
}

// Service expõe a camada de aplicação, para quem precisa decidir fora do
// contexto de uma requisição HTTP (jobs, consoles administrativos).
func (l *Limiter) Service() *application.Service { return l.svc }

// Middleware devolve o middleware net/http do limiter.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.opts.Skip != nil && l.opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			var res application.Result
			if l.opts.KeyFn != nil {
				res = l.svc.DecideKey(r.Context(), domain.Key(l.opts.KeyFn(r)))
			} else {
				res = l.svc.Decide(r.Context(), l.callerFrom(r))
			}

			l.record(r, res)

			cfg := l.svc.Config()
			if !res.FailedOpen {
				l.setHeaders(w, res.Decision)
			}

			if res.Denial != nil {
				// a própria negação conta como falha para o skip de falhas,
				// mas só há estorno quando o hit ficou registrado
				if cfg.SkipFailed && res.Decision.Counted {
					l.svc.Decrement(r.Context(), res.Key)
				}
				w.Header().Set("Retry-After", formatInt(int(res.Denial.RetryAfter(time.Now()).Seconds())))
				if l.opts.Handler != nil {
					l.opts.Handler(w, r, res.Denial)
					return
				}
				http.Error(w, res.Denial.Error(), l.opts.RejectStatus)
				return
			}

			if !res.FailedOpen {
				r = r.WithContext(ContextWithDecision(r.Context(), res.Decision))
			}

			if (cfg.SkipSuccessful || cfg.SkipFailed) && !res.FailedOpen {
				rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
				next.ServeHTTP(rec, r)
				if cfg.SkipSuccessful && rec.status < http.StatusBadRequest {
					l.svc.Decrement(r.Context(), res.Key)
				}
				if cfg.SkipFailed && rec.status >= http.StatusBadRequest {
					l.svc.Decrement(r.Context(), res.Key)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) callerFrom(r *http.Request) domain.Caller {
	return domain.Caller{
		Identity:   IdentityFromContext(r.Context()),
		APIKey:     strings.TrimSpace(r.Header.Get(l.opts.KeyHeader)),
		SourceAddr: clientAddr(r, l.opts.TrustXForwardedFor),
		Method:     r.Method,
		Path:       r.URL.Path,
	}
}

func (l *Limiter) setHeaders(w http.ResponseWriter, dec domain.Decision) {
	cfg := l.svc.Config()
	if cfg.DisableHeaders {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	h.Set("X-RateLimit-Reset", formatUnix(dec.ResetTime))
	if cfg.LegacyHeaders {
		h.Set("X-Rate-Limit-Limit", formatInt(dec.Limit))
		h.Set("X-Rate-Limit-Remaining", formatInt(dec.Remaining))
		h.Set("X-Rate-Limit-Reset", formatUnix(dec.ResetTime))
	}
}

func (l *Limiter) record(r *http.Request, res application.Result) {
	if l.stats == nil || res.Skipped {
		return
	}
	_ = l.stats.Record(r.Context(), domain.StatsEvent{
		Key:      res.Key,
		Strategy: l.svc.Config().Strategy,
		Allowed:  res.Denial == nil,
		Method:   r.Method,
		Path:     r.URL.Path,
		At:       time.Now(),
	})
}

// clientAddr resolve o endereço de origem, sem porta. Com trustXFF ligado,
// o primeiro endereço do X-Forwarded-For (o cliente original) tem
// precedência sobre o RemoteAddr da conexão.
func clientAddr(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr := strings.TrimSpace(first); addr != "" {
				return addr
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captura o status escrito pelo handler seguinte, para os
// modos SkipSuccessful/SkipFailed saberem o desfecho da requisição.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap permite que http.ResponseController alcance o writer original.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
