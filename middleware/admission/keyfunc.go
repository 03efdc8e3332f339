package admission

import (
	"net/http"
	"strings"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

// DefaultKeyFunc expõe a derivação padrão de chave como uma KeyFunc avulsa,
// para quem precisa da mesma chave fora do middleware (logs, bans manuais).
//
// Precedência: identidade autenticada > header de API key > endereço de
// origem > "unknown".
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	if keyHeader == "" {
		keyHeader = "X-Api-Key"
	}
	return func(r *http.Request) string {
		return string(application.DefaultKey(domain.Caller{
			Identity:   IdentityFromContext(r.Context()),
			APIKey:     strings.TrimSpace(r.Header.Get(keyHeader)),
			SourceAddr: clientAddr(r, trustXFF),
			Method:     r.Method,
			Path:       r.URL.Path,
		}))
	}
}
