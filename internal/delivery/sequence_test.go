package delivery

import (
	"sync"
	"testing"
)

func TestSequencerStepsAndWraps(t *testing.T) {
	t.Parallel()
	const step = 7
	s := NewSequencer(step)

	prev := 0
	for i := 1; ; i++ {
		got := s.Next("g1")
		if prev+step >= SeqCeiling {
			if got != step {
				t.Fatalf("after ceiling got %d, want %d", got, step)
			}
			break
		}
		if got != prev+step {
			t.Fatalf("call %d: got %d, want %d", i, got, prev+step)
		}
		prev = got
	}
}

func TestSequencerNeverIssuesZero(t *testing.T) {
	t.Parallel()
	s := NewSequencer(SeqCeiling - 1)
	for i := 0; i < 5; i++ {
		if got := s.Next("g"); got == 0 {
			t.Fatalf("issued 0 on call %d", i)
		}
	}
}

func TestSequencerReset(t *testing.T) {
	t.Parallel()
	s := NewSequencer(3)
	s.Next("g")
	s.Next("g")
	s.Next("other")
	s.Reset("g")
	if got := s.Next("g"); got != 3 {
		t.Fatalf("after reset got %d, want 3", got)
	}
	if got := s.Current("other"); got != 3 {
		t.Fatalf("other group touched by reset: %d", got)
	}
}

func TestSequencerGroupsIndependent(t *testing.T) {
	t.Parallel()
	s := NewSequencer(1)
	s.Next("a")
	s.Next("a")
	if got := s.Next("b"); got != 1 {
		t.Fatalf("group b got %d, want 1", got)
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	t.Parallel()
	s := NewSequencer(1)
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, s.Next("shared"))
			}
			mu.Lock()
			for _, v := range local {
				if seen[v] {
					t.Errorf("sequence %d issued twice", v)
				}
				seen[v] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d distinct values, want %d", len(seen), workers*per)
	}
	if got := s.Current("shared"); got != workers*per {
		t.Fatalf("Current = %d, want %d", got, workers*per)
	}
}
