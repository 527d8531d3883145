// Package events carries the audit records emitted by every mutating ledger
// and registry operation. Observers (tests, the archiver, UIs) subscribe to
// the bus; emission is synchronous so a subscriber sees records in the order
// the operations committed.
package events

import (
	"github.com/asaskevich/EventBus"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/token"
)

// Kind names an audit record type.
type Kind string

const (
	KindCreated       Kind = "Created"
	KindSplit         Kind = "Split"
	KindMerge         Kind = "Merge"
	KindTransferUnits Kind = "TransferUnits"
	KindUnlocked      Kind = "Unlocked"
	KindExercised     Kind = "Exercised"
)

// TopicAudit is the bus topic all audit records are published on.
const TopicAudit = "option:audit"

// Record is the auditable trace of one mutation. PositionID is the source
// position, TargetPositionID the destination where one exists (split target,
// merge target, transfer target); UnitsMoved is the number of units the
// operation moved. From/To mirror the ownership movement; mint uses the zero
// address as From, burn uses it as To.
type Record struct {
	Kind             Kind
	PositionID       uint64
	TargetPositionID uint64
	UnitsMoved       uint64
	From             token.AccountID
	To               token.AccountID
	Amount           amount.Amount
	SlotID           uint64
}

// Bus is a typed facade over the process-wide event bus.
type Bus struct {
	bus EventBus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

// Publish emits an audit record. A nil *Bus drops records, so components can
// run without observers wired.
func (b *Bus) Publish(rec Record) {
	if b == nil {
		return
	}
	b.bus.Publish(TopicAudit, rec)
}

// Subscribe registers a synchronous observer for audit records.
func (b *Bus) Subscribe(fn func(Record)) error {
	return b.bus.Subscribe(TopicAudit, fn)
}

// Unsubscribe removes a previously registered observer.
func (b *Bus) Unsubscribe(fn func(Record)) error {
	return b.bus.Unsubscribe(TopicAudit, fn)
}
