package ledgermem

import (
	"context"
	"sync"

	"custodia/internal/domain"
)

type position struct {
	artifactID string
	height     int64
	index      int
}

type CustodyStore struct {
	mu      sync.Mutex
	events  map[string][]domain.CustodyEvent
	derived map[position]struct{}
	lastSeq map[position]int
}

func NewCustodyStore() *CustodyStore {
	return &CustodyStore{
		events:  make(map[string][]domain.CustodyEvent),
		derived: make(map[position]struct{}),
		lastSeq: make(map[position]int),
	}
}

func (s *CustodyStore) PutDerived(ctx context.Context, event domain.CustodyEvent) (domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutcomeRejected, err
	}
	pos := position{event.ArtifactID, event.Height, event.Index}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.derived[pos]; ok {
		return domain.OutcomeDuplicate, nil
	}
	event.Seq = 0
	event.Actor = event.Actor.Clone()
	s.derived[pos] = struct{}{}
	s.events[event.ArtifactID] = append(s.events[event.ArtifactID], event)
	return domain.OutcomeAccepted, nil
}

func (s *CustodyStore) Append(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.CustodyEvent{}, err
	}
	pos := position{event.ArtifactID, event.Height, event.Index}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq[pos]++
	event.Seq = s.lastSeq[pos]
	event.Actor = event.Actor.Clone()
	s.events[event.ArtifactID] = append(s.events[event.ArtifactID], event)
	return event, nil
}

func (s *CustodyStore) List(ctx context.Context, artifactID string) ([]domain.CustodyEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.events[artifactID]
	out := make([]domain.CustodyEvent, len(src))
	for i, ev := range src {
		ev.Actor = ev.Actor.Clone()
		out[i] = ev
	}
	return out, nil
}
