package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func testLimiter() *Limiter {
	return NewLimiter(map[string]Budget{
		ScopeGlobal: {Max: 3, Window: 60 * time.Second},
		ScopeAI:     {Max: 1, Window: 300 * time.Second},
	}, Budget{Max: 3, Window: 60 * time.Second})
}

func TestAdmitSlidingWindow(t *testing.T) {
	t.Parallel()

	l := testLimiter()
	base := time.Unix(1700000000, 0)

	for i, offset := range []time.Duration{0, 10 * time.Second, 20 * time.Second} {
		d := l.Admit(42, ScopeGlobal, base.Add(offset))
		if !d.Allowed {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}

	d := l.Admit(42, ScopeGlobal, base.Add(30*time.Second))
	if d.Allowed {
		t.Fatal("4th call within window should be rejected")
	}
	// Window clears at t=60 from the first admitted call, not at t=30.
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("unexpected retry after: %s", d.RetryAfter)
	}

	d = l.Admit(42, ScopeGlobal, base.Add(61*time.Second))
	if !d.Allowed {
		t.Fatal("call after the first timestamp expired should be admitted")
	}
}

func TestAdmitNeverExceedsMaxInAnyWindow(t *testing.T) {
	t.Parallel()

	l := testLimiter()
	base := time.Unix(1700000000, 0)

	var admitted []time.Time
	for i := 0; i < 40; i++ {
		now := base.Add(time.Duration(i*7) * time.Second)
		if l.Admit(7, ScopeGlobal, now).Allowed {
			admitted = append(admitted, now)
		}
	}

	window := 60 * time.Second
	for _, start := range admitted {
		count := 0
		for _, ts := range admitted {
			if !ts.Before(start) && ts.Before(start.Add(window)) {
				count++
			}
		}
		if count > 3 {
			t.Fatalf("window starting at %s holds %d admissions", start, count)
		}
	}
}

func TestScopesAreIndependent(t *testing.T) {
	t.Parallel()

	l := testLimiter()
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if !l.Admit(9, ScopeGlobal, now.Add(time.Duration(i)*time.Second)).Allowed {
			t.Fatal("global budget exhausted too early")
		}
	}
	if l.Admit(9, ScopeGlobal, now.Add(3*time.Second)).Allowed {
		t.Fatal("global budget should be exhausted")
	}
	if !l.Admit(9, ScopeAI, now.Add(3*time.Second)).Allowed {
		t.Fatal("exhausting the global scope must not affect the ai scope")
	}
}

func TestFirstRequestAlwaysAdmits(t *testing.T) {
	t.Parallel()

	l := testLimiter()
	if !l.Admit(1, CommandScope("start"), time.Now()).Allowed {
		t.Fatal("first request for a fresh scope key must be admitted")
	}
}

func TestConcurrentAdmitsSameKey(t *testing.T) {
	t.Parallel()

	l := NewLimiter(nil, Budget{Max: 5, Window: time.Minute})
	now := time.Now()

	var wg sync.WaitGroup
	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Admit(11, ScopeGlobal, now).Allowed
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected exactly 5 admissions, got %d", allowed)
	}
}
