package domain

import "time"

type CustodyEventType string

const (
	CustodySubmitted   CustodyEventType = "Submitted"
	CustodyValidated   CustodyEventType = "Validated"
	CustodyBound       CustodyEventType = "Bound"
	CustodyCorrected   CustodyEventType = "Corrected"
	CustodyAccessed    CustodyEventType = "Accessed"
	CustodyTransferred CustodyEventType = "Transferred"
)

var custodyTypes = map[CustodyEventType]struct{}{
	CustodySubmitted:   {},
	CustodyValidated:   {},
	CustodyBound:       {},
	CustodyCorrected:   {},
	CustodyAccessed:    {},
	CustodyTransferred: {},
}

func (t CustodyEventType) Valid() bool {
	_, ok := custodyTypes[t]
	return ok
}

// CustodyEvent is append-only. Seq 0 is reserved for the event implied by
// the anchoring transaction itself; recorded events take Seq 1, 2, ...
type CustodyEvent struct {
	ID           string
	ArtifactID   string
	EventType    CustodyEventType
	Actor        Identity
	Timestamp    time.Time
	Note         string
	AnchorTxHash string
	Height       int64
	Index        int
	Seq          int
}

// Before reports ledger order.
func (e CustodyEvent) Before(other CustodyEvent) bool {
	if e.Height != other.Height {
		return e.Height < other.Height
	}
	if e.Index != other.Index {
		return e.Index < other.Index
	}
	return e.Seq < other.Seq
}
