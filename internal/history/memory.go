package history

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps transcripts in process. Each user has an independent
// lock so unrelated conversations never wait on each other.
type MemoryStore struct {
	logs sync.Map // user id -> *memoryLog
}

type memoryLog struct {
	mu    sync.Mutex
	turns []Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, userID string, turn Turn) (Turn, error) {
	turn, err := prepare(userID, turn)
	if err != nil {
		return Turn{}, err
	}
	v, _ := s.logs.LoadOrStore(userID, &memoryLog{})
	log := v.(*memoryLog)

	log.mu.Lock()
	defer log.mu.Unlock()
	turn.Parts = append([]string(nil), turn.Parts...)
	turn.Sequence = int64(len(log.turns)) + 1
	log.turns = append(log.turns, turn)
	return turn, nil
}

func (s *MemoryStore) Load(_ context.Context, userID string) ([]Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return []Turn{}, nil
	}
	v, ok := s.logs.Load(userID)
	if !ok {
		return []Turn{}, nil
	}
	log := v.(*memoryLog)
	log.mu.Lock()
	defer log.mu.Unlock()
	out := make([]Turn, len(log.turns))
	copy(out, log.turns)
	return out, nil
}
