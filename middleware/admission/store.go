package admission

import (
	"github.com/redis/go-redis/v9"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

// NewStoreFor cria o CounterStore Redis compatível com as opções dadas,
// resolvendo os defaults do mesmo jeito que New. Conveniência para quem usa
// presets com backend compartilhado:
//
//	opts := admission.PresetAPI()
//	store, err := admission.NewStoreFor(opts, rdb)
//	opts = opts.With(admission.Options{Store: store})
func NewStoreFor(opts Options, rdb *redis.Client) (domain.CounterStore, error) {
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
	return infra.NewRedisStore(rdb, strategy, max, window)
}
