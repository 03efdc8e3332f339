package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func TestChanPool_AcquireRelease(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected acquire on full pool to fail")
	}

	release()
	release2, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
	release2()
}

func TestKeyedChanPool_SameKeySamePool(t *testing.T) {
	k := NewKeyedChanPool(2)

	p1 := k.Pool(domain.Key("a"))
	p2 := k.Pool(domain.Key("a"))
	if p1 != p2 {
		t.Fatalf("expected same pool for same key")
	}

	p3 := k.Pool(domain.Key("b"))
	if p1 == p3 {
		t.Fatalf("expected different pool for different key")
	}
	if k.Len() != 2 {
		t.Fatalf("expected 2 pools, got %d", k.Len())
	}
}

func TestKeyedChanPool_KeysDontContend(t *testing.T) {
	k := NewKeyedChanPool(1)

	relA, ok := k.Pool(domain.Key("a")).Acquire(context.Background())
	if !ok {
		t.Fatalf("expected acquire on key a")
	}
	defer relA()

	// chave b tem o próprio teto, não espera a vaga de a
	relB, ok := k.Pool(domain.Key("b")).Acquire(context.Background())
	if !ok {
		t.Fatalf("expected acquire on key b to be independent")
	}
	relB()
}
