package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"admission-gateway/middleware/admission/domain"
)

// RedisStore é um domain.CounterStore compartilhado entre instâncias.
//
// Cada operação de leitura-modificação-escrita roda como unidade atômica no
// servidor (INCR em pipeline transacional ou script Lua), com a expiração da
// chave definida na mesma unidade. É o backend indicado quando o serviço
// roda com mais de uma réplica.
type RedisStore struct {
	alg redisAlgorithm
}

// redisAlgorithm é o conjunto fechado de estratégias do RedisStore, uma
// implementação por algoritmo, escolhida na construção.
type redisAlgorithm interface {
	incr(ctx context.Context, key domain.Key) (domain.Decision, error)
	decr(ctx context.Context, key domain.Key) error
	reset(ctx context.Context, key domain.Key) error
}

type redisShared struct {
	rdb    *redis.Client
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

type RedisOption func(*redisShared)

func WithPrefix(prefix string) RedisOption {
	return func(s *redisShared) { s.prefix = prefix }
}

// WithRedisClock troca a fonte de tempo usada nos argumentos dos scripts.
// Existe para testes determinísticos.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *redisShared) { s.now = now }
}

// NewRedisStore cria um store compartilhado para a estratégia dada.
func NewRedisStore(rdb *redis.Client, strategy domain.Strategy, max int, window time.Duration, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, &domain.ConfigError{Field: "store", Reason: "redis client is required"}
	}
	if max <= 0 {
		return nil, &domain.ConfigError{Field: "max", Reason: "must be positive"}
	}
	if window <= 0 {
		return nil, &domain.ConfigError{Field: "window", Reason: "must be positive"}
	}

	shared := redisShared{
		rdb:    rdb,
		prefix: "admission",
		max:    max,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&shared)
	}

	switch strategy {
	case domain.FixedWindow:
		return &RedisStore{alg: redisFixedWindow{shared}}, nil
	case domain.SlidingWindow:
		return &RedisStore{alg: redisSlidingWindow{shared}}, nil
	case domain.TokenBucket:
		return &RedisStore{alg: redisTokenBucket{shared}}, nil
	case domain.LeakyBucket:
		return &RedisStore{alg: redisLeakyBucket{shared}}, nil
	default:
		return nil, &domain.ConfigError{Field: "strategy", Reason: "unknown strategy " + string(strategy)}
	}
}

func (s *RedisStore) Increment(ctx context.Context, key domain.Key) (domain.Decision, error) {
	return s.alg.incr(ctx, key)
}

func (s *RedisStore) Decrement(ctx context.Context, key domain.Key) error {
	return s.alg.decr(ctx, key)
}

func (s *RedisStore) Reset(ctx context.Context, key domain.Key) error {
	return s.alg.reset(ctx, key)
}

func (r redisShared) key(k domain.Key) string {
	return r.prefix + ":" + string(k)
}

func (r redisShared) wrap(op string, key domain.Key, err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return &domain.StoreError{Op: op, Key: key, Err: err}
}

// fixedWindowKey é a chave do contador da janela que contém now.
// O sufixo é o início da janela em unix ms, então janelas antigas expiram
// sozinhas sem interferir na corrente.
func fixedWindowKey(base string, now time.Time, window time.Duration) (string, time.Time) {
	ws := now.Truncate(window)
	return fmt.Sprintf("%s:%d", base, ws.UnixMilli()), ws.Add(window)
}

type redisFixedWindow struct{ redisShared }

func (r redisFixedWindow) incr(ctx context.Context, key domain.Key) (domain.Decision, error) {
	k, end := fixedWindowKey(r.key(key), r.now(), r.window)

	pipe := r.rdb.TxPipeline()
	counter := pipe.Incr(ctx, k)
	pipe.PExpireAt(ctx, k, end)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Decision{}, r.wrap("increment", key, err)
	}

	return domain.NewDecision(r.max, int(counter.Val()), end), nil
}

var fixedDecrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  local v = redis.call('DECR', KEYS[1])
  if v < 0 then
    redis.call('SET', KEYS[1], 0, 'KEEPTTL')
  end
end
return 0
`)

func (r redisFixedWindow) decr(ctx context.Context, key domain.Key) error {
	k, _ := fixedWindowKey(r.key(key), r.now(), r.window)
	return r.wrap("decrement", key, fixedDecrScript.Run(ctx, r.rdb, []string{k}).Err())
}

func (r redisFixedWindow) reset(ctx context.Context, key domain.Key) error {
	k, _ := fixedWindowKey(r.key(key), r.now(), r.window)
	return r.wrap("reset", key, r.rdb.Del(ctx, k).Err())
}

// slidingIncrScript purga eventos fora da janela, insere o hit e devolve
// {contagem, reset em unix ms}. Um hit que estoura o limite é removido em
// seguida: negado não consome capacidade da janela.
var slidingIncrScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, member)
local count = redis.call('ZCARD', key)
if count > max then
  redis.call('ZREM', key, member)
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {count, reset}
`)

type redisSlidingWindow struct{ redisShared }

func (r redisSlidingWindow) incr(ctx context.Context, key domain.Key) (domain.Decision, error) {
	now := r.now()
	res, err := slidingIncrScript.Run(ctx, r.rdb, []string{r.key(key)},
		now.UnixMilli(), r.window.Milliseconds(), r.max, uuid.NewString()).Result()
	if err != nil {
		return domain.Decision{}, r.wrap("increment", key, err)
	}

	vals, err := replyInts(res, 2)
	if err != nil {
		return domain.Decision{}, r.wrap("increment", key, err)
	}

	reset := time.UnixMilli(vals[1])
	if reset.Before(now) {
		reset = now
	}
	dec := domain.NewDecision(r.max, int(vals[0]), reset)
	if dec.Current > r.max {
		// o script já removeu o hit negado
		dec.Counted = false
	}
	return dec, nil
}

func (r redisSlidingWindow) decr(ctx context.Context, key domain.Key) error {
	// remove o hit mais recente; se a janela inteira já expirou, é no-op
	return r.wrap("decrement", key, r.rdb.ZRemRangeByRank(ctx, r.key(key), -1, -1).Err())
}

func (r redisSlidingWindow) reset(ctx context.Context, key domain.Key) error {
	return r.wrap("reset", key, r.rdb.Del(ctx, r.key(key)).Err())
}

// tokenIncrScript recarrega floor(elapsed/janela*max) fichas, consome uma se
// houver e devolve {admitido, fichas restantes}. O estado expira com 2x a
// janela de folga para o decaimento em idle.
var tokenIncrScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'stamp')
local tokens = tonumber(state[1])
local stamp = tonumber(state[2])
if tokens == nil then
  tokens = max
  stamp = now
end

local add = math.floor((now - stamp) / window * max)
if add > 0 then
  tokens = math.min(max, tokens + add)
  stamp = now
end

local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'stamp', stamp)
redis.call('PEXPIRE', key, window * 2)
return {allowed, tokens}
`)

var tokenDecrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  local t = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
  if t ~= nil and t < tonumber(ARGV[1]) then
    redis.call('HSET', KEYS[1], 'tokens', t + 1)
  end
end
return 0
`)

type redisTokenBucket struct{ redisShared }

func (r redisTokenBucket) incr(ctx context.Context, key domain.Key) (domain.Decision, error) {
	now := r.now()
	res, err := tokenIncrScript.Run(ctx, r.rdb, []string{r.key(key)},
		now.UnixMilli(), r.window.Milliseconds(), r.max).Result()
	if err != nil {
		return domain.Decision{}, r.wrap("increment", key, err)
	}

	vals, err := replyInts(res, 2)
	if err != nil {
		return domain.Decision{}, r.wrap("increment", key, err)
	}

	return tokenDecision(r.max, vals[0] == 1, int(vals[1]), now, r.window), nil
}

func (r redisTokenBucket) decr(ctx context.Context, key domain.Key) error {
	return r.wrap("decrement", key, tokenDecrScript.Run(ctx, r.rdb, []string{r.key(key)}, r.max).Err())
}

func (r redisTokenBucket) reset(ctx context.Context, key domain.Key) error {
	return r.wrap("reset", key, r.rdb.Del(ctx, r.key(key)).Err())
}

// leakyIncrScript escoa o volume acumulado à taxa max/janela, soma o hit e
// devolve floor(volume). O volume nunca fica negativo.
var leakyIncrScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'volume', 'stamp')
local vol = tonumber(state[1])
local stamp = tonumber(state[2])
if vol == nil then
  vol = 0
  stamp = now
end

vol = vol - (now - stamp) * max / window
if vol < 0 then
  vol = 0
end
vol = vol + 1

redis.call('HSET', key, 'volume', tostring(vol), 'stamp', now)
redis.call('PEXPIRE', key, window * 2)
return math.floor(vol)
`)

var leakyDecrScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], 'volume'))
if v ~= nil and v >= 1 then
  redis.call('HSET', KEYS[1], 'volume', tostring(v - 1))
end
return 0
`)

type redisLeakyBucket struct{ redisShared }

func (r redisLeakyBucket) incr(ctx context.Context, key domain.Key) (domain.Decision, error) {
	now := r.now()
	res, err := leakyIncrScript.Run(ctx, r.rdb, []string{r.key(key)},
		now.UnixMilli(), r.window.Milliseconds(), r.max).Result()
	if err != nil {
		return domain.Decision{}, r.wrap("increment", key, err)
	}

	current, ok := res.(int64)
	if !ok {
		return domain.Decision{}, r.wrap("increment", key, fmt.Errorf("unexpected script reply %T", res))
	}

	return leakyDecision(r.max, int(current), now, r.window), nil
}

func (r redisLeakyBucket) decr(ctx context.Context, key domain.Key) error {
	return r.wrap("decrement", key, leakyDecrScript.Run(ctx, r.rdb, []string{r.key(key)}).Err())
}

func (r redisLeakyBucket) reset(ctx context.Context, key domain.Key) error {
	return r.wrap("reset", key, r.rdb.Del(ctx, r.key(key)).Err())
}

// tokenDecision traduz a resposta do bucket de fichas para uma Decision.
// Negado vira Current = max+1: acima do limite, Remaining zerado, nada
// consumido (Counted falso).
func tokenDecision(max int, allowed bool, tokens int, now time.Time, window time.Duration) domain.Decision {
	reset := now.Add(window / time.Duration(max))
	if !allowed {
		dec := domain.NewDecision(max, max+1, reset)
		dec.Counted = false
		return dec
	}
	return domain.NewDecision(max, max-tokens, reset)
}

// leakyDecision calcula o reset pelo tempo de escoamento do excesso corrente.
func leakyDecision(max, current int, now time.Time, window time.Duration) domain.Decision {
	perDrain := window / time.Duration(max)
	reset := now.Add(perDrain)
	if current > max {
		reset = now.Add(perDrain * time.Duration(current-max))
	}
	return domain.NewDecision(max, current, reset)
}

// replyInts valida uma resposta de script no formato array de inteiros.
func replyInts(res interface{}, want int) ([]int64, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != want {
		return nil, fmt.Errorf("unexpected script reply %T", res)
	}
	out := make([]int64, want)
	for i, v := range arr {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script reply element %T", v)
		}
		out[i] = n
	}
	return out, nil
}

var _ domain.CounterStore = (*RedisStore)(nil)
