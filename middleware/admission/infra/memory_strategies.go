package infra

import (
	"math"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// memoryAlgorithm é o conjunto fechado de estratégias do MemoryStore.
// hit e unhit rodam sempre com o mutex do store em mãos.
type memoryAlgorithm interface {
	hit(e *memoryEntry, now time.Time) domain.Decision
	unhit(e *memoryEntry, now time.Time)
}

// fixedWindowAlg conta hits por janela fixa alinhada ao relógio.
//
// Custo O(1). Trade-off documentado: uma rajada colada na virada da janela
// pode admitir até 2x o limite num intervalo curto. Isso é intencional
// (precisão trocada por custo), não é bug a corrigir.
type fixedWindowAlg struct {
	max    int
	window time.Duration
}

func (a fixedWindowAlg) hit(e *memoryEntry, now time.Time) domain.Decision {
	ws := now.Truncate(a.window)
	if !e.started || !e.windowStart.Equal(ws) {
		e.windowStart = ws
		e.count = 0
		e.started = true
	}
	e.count++
	return domain.NewDecision(a.max, e.count, ws.Add(a.window))
}

func (a fixedWindowAlg) unhit(e *memoryEntry, now time.Time) {
	// nunca "rebobina" uma janela que já rotacionou
	if e.started && e.windowStart.Equal(now.Truncate(a.window)) && e.count > 0 {
		e.count--
	}
}

// slidingWindowAlg guarda os timestamps dos hits admitidos na janela móvel.
// Admissão suave, ao custo de memória proporcional aos hits na janela.
type slidingWindowAlg struct {
	max    int
	window time.Duration
}

func (a slidingWindowAlg) hit(e *memoryEntry, now time.Time) domain.Decision {
	cutoff := now.Add(-a.window)

	keep := e.events[:0]
	for _, ts := range e.events {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	e.events = append(keep, now)
	e.started = true

	current := len(e.events)
	counted := true
	if current > a.max {
		// negado não consome capacidade da janela
		e.events = e.events[:current-1]
		counted = false
	}

	reset := now.Add(a.window)
	if len(e.events) > 0 {
		if r := e.events[0].Add(a.window); r.After(now) {
			reset = r
		}
	}
	dec := domain.NewDecision(a.max, current, reset)
	dec.Counted = counted
	return dec
}

func (a slidingWindowAlg) unhit(e *memoryEntry, _ time.Time) {
	if n := len(e.events); n > 0 {
		e.events = e.events[:n-1]
	}
}

// tokenBucketAlg recarrega fichas continuamente à taxa max/janela e consome
// uma por hit admitido.
type tokenBucketAlg struct {
	max    int
	window time.Duration
}

func (a tokenBucketAlg) hit(e *memoryEntry, now time.Time) domain.Decision {
	if !e.started {
		e.tokens = a.max
		e.stampedAt = now
		e.started = true
	}

	elapsed := now.Sub(e.stampedAt)
	add := int(math.Floor(float64(elapsed) / float64(a.window) * float64(a.max)))
	if add > 0 {
		e.tokens += add
		if e.tokens > a.max {
			e.tokens = a.max
		}
		e.stampedAt = now
	}

	reset := now.Add(a.window / time.Duration(a.max))
	if e.tokens > 0 {
		e.tokens--
		return domain.NewDecision(a.max, a.max-e.tokens, reset)
	}
	// sem ficha: Current acima do limite sinaliza negação; nenhuma ficha
	// foi consumida, então não há o que estornar
	dec := domain.NewDecision(a.max, a.max+1, reset)
	dec.Counted = false
	return dec
}

func (a tokenBucketAlg) unhit(e *memoryEntry, _ time.Time) {
	if e.started && e.tokens < a.max {
		e.tokens++
	}
}

// leakyBucketAlg acumula "volume" que escoa à taxa constante max/janela.
// O volume pode passar de max transitoriamente antes do decaimento; para
// admissão o que vale é floor(volume) <= max.
type leakyBucketAlg struct {
	max    int
	window time.Duration
}

func (a leakyBucketAlg) hit(e *memoryEntry, now time.Time) domain.Decision {
	if !e.started {
		e.volume = 0
		e.stampedAt = now
		e.started = true
	}

	if elapsed := now.Sub(e.stampedAt); elapsed > 0 {
		e.volume -= float64(elapsed) * float64(a.max) / float64(a.window)
		if e.volume < 0 {
			e.volume = 0
		}
	}
	e.volume++
	e.stampedAt = now

	current := int(math.Floor(e.volume))
	perDrain := a.window / time.Duration(a.max)
	reset := now.Add(perDrain)
	if current > a.max {
		reset = now.Add(perDrain * time.Duration(current-a.max))
	}
	return domain.NewDecision(a.max, current, reset)
}

func (a leakyBucketAlg) unhit(e *memoryEntry, _ time.Time) {
	if e.started && e.volume >= 1 {
		e.volume--
	}
}
