package telegram

import (
	"strconv"
	"sync"
	"time"

	"groupcast/internal/delivery"
)

const guardMaxEntries = 10_000

// seqGuard remembers recently used (group, msg_id, seq) triples so a replay
// is rejected the way the platform rejects a reused sequence.
//
// A Controller only repeats a triple after a sequence reset wraps back onto
// an earlier value, so in normal operation the guard stays silent. It exists
// to catch a caller that hands the same Delivery to Deliver twice.
type seqGuard struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // key -> expiry
}

func newSeqGuard(ttl time.Duration) *seqGuard {
	return &seqGuard{ttl: ttl, max: guardMaxEntries, now: time.Now, seen: map[string]time.Time{}}
}

func guardKey(d delivery.Delivery) string {
	return d.GroupID + "\x00" + d.MsgID + "\x00" + strconv.Itoa(d.Seq)
}

// claim records d and returns a *delivery.DuplicateSequenceError when the
// triple is still remembered.
func (g *seqGuard) claim(d delivery.Delivery) error {
	if g == nil || g.ttl <= 0 {
		return nil
	}
	now := g.now()
	key := guardKey(d)

	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return &delivery.DuplicateSequenceError{GroupID: d.GroupID, MsgID: d.MsgID, Seq: d.Seq}
	}
	g.seen[key] = now.Add(g.ttl)
	if len(g.seen) > g.max {
		g.pruneLocked(now)
	}
	return nil
}

func (g *seqGuard) pruneLocked(now time.Time) {
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	for len(g.seen) > g.max {
		var (
			oldest string
			minExp time.Time
			set    bool
		)
		for k, exp := range g.seen {
			if !set || exp.Before(minExp) {
				oldest, minExp, set = k, exp, true
			}
		}
		delete(g.seen, oldest)
	}
}

func (g *seqGuard) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
