package delivery

import (
	"hash/fnv"
	"sync"
)

const seqShards = 16

type seqShard struct {
	mu   sync.Mutex
	last map[string]int
}

// Sequencer issues per-group sequence numbers.
//
// Groups are spread over a fixed set of lock shards; the read-modify-write of
// one group's counter always happens under its shard's lock.
type Sequencer struct {
	step   int
	shards [seqShards]seqShard
}

func NewSequencer(step int) *Sequencer {
	if step < 1 {
		step = 1
	}
	s := &Sequencer{step: step}
	for i := range s.shards {
		s.shards[i].last = map[string]int{}
	}
	return s
}

func (s *Sequencer) shard(groupID string) *seqShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(groupID))
	return &s.shards[h.Sum32()%seqShards]
}

// Next returns the group's next sequence number. Values that would reach
// SeqCeiling wrap to the step; 0 is never issued.
func (s *Sequencer) Next(groupID string) int {
	sh := s.shard(groupID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	next := sh.last[groupID] + s.step
	if next >= SeqCeiling {
		next = s.step
	}
	sh.last[groupID] = next
	return next
}

// Reset zeroes the group's counter so the next call returns the step.
func (s *Sequencer) Reset(groupID string) {
	sh := s.shard(groupID)
	sh.mu.Lock()
	sh.last[groupID] = 0
	sh.mu.Unlock()
}

// Current returns the last issued value (0 if none).
func (s *Sequencer) Current(groupID string) int {
	sh := s.shard(groupID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.last[groupID]
}
