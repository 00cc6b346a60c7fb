package id

import (
	"sync"
	"testing"
)

func TestNextMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		if next.Compare(prev) <= 0 {
			t.Fatalf("token not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator()
	const n = 64
	const per = 100
	var mu sync.Mutex
	seen := make(map[Token]struct{}, n*per)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Token, 0, per)
			for j := 0; j < per; j++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, tok := range local {
				seen[tok] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n*per {
		t.Fatalf("duplicate tokens: want %d unique, got %d", n*per, len(seen))
	}
}

func TestClockBackwards(t *testing.T) {
	g := NewGenerator()
	orig := NowMs
	defer func() { NowMs = orig }()

	now := int64(10_000)
	NowMs = func() int64 { return now }
	a := g.Next()
	now = 9_000 // clock regression
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("token went backwards with clock: %s <= %s", b, a)
	}
}

func TestZeroToken(t *testing.T) {
	var zero Token
	if !zero.IsZero() {
		t.Fatalf("zero token should report IsZero")
	}
	if NewGenerator().Next().IsZero() {
		t.Fatalf("generated token should not be zero")
	}
}
