package domain

import "time"

type EventType string

const (
	EventConsensusCommitted   EventType = "ConsensusCommitted"
	EventConsensusRejected    EventType = "ConsensusRejected"
	EventCustodyEventRecorded EventType = "CustodyEventRecorded"
)

type Event interface {
	Type() EventType
}

type ConsensusCommitted struct {
	Block Block
}

func (ConsensusCommitted) Type() EventType { return EventConsensusCommitted }

type FailedPredicate struct {
	ContentHash string `json:"content_hash"`
	Predicate   string `json:"predicate"`
	Reason      string `json:"reason"`
}

type ConsensusRejected struct {
	Batch            []string
	FailedPredicates []FailedPredicate
	AuditScore       float64
	Nonce            uint64
	Evicted          []string
	RejectedAt       time.Time
}

func (ConsensusRejected) Type() EventType { return EventConsensusRejected }

type CustodyEventRecorded struct {
	Event CustodyEvent
}

func (CustodyEventRecorded) Type() EventType { return EventCustodyEventRecorded }
