package admission

import (
	"context"

	"admission-gateway/middleware/admission/domain"
)

type ctxKey int

const (
	identityCtxKey ctxKey = iota
	decisionCtxKey
)

// ContextWithIdentity anexa o principal autenticado ao contexto. É o elo com
// a camada de autenticação: o engine não resolve identidade, só consome o que
// o middleware de auth deixou aqui.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext devolve o principal autenticado, ou "" se não houver.
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityCtxKey).(string)
	return id
}

// ContextWithDecision anexa a decisão de admissão ao contexto da requisição.
func ContextWithDecision(ctx context.Context, dec domain.Decision) context.Context {
	return context.WithValue(ctx, decisionCtxKey, dec)
}

// DecisionFromContext devolve a decisão anexada pelo middleware, quando a
// requisição foi admitida com decisão conhecida.
func DecisionFromContext(ctx context.Context) (domain.Decision, bool) {
	dec, ok := ctx.Value(decisionCtxKey).(domain.Decision)
	return dec, ok
}
