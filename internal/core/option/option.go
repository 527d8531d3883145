// Package option defines the data model shared by the slot ledger and the
// option registry: slots, fractional positions and their lifecycle states.
package option

import (
	"time"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/token"
)

// MaxUnits is the per-origin total-unit denominator U: every freshly created
// position starts fully owned with this many units, and all fractional
// accounting is denominated against it.
const MaxUnits uint64 = 1_000_000

// Type is the option contract type.
type Type uint8

const (
	TypeAll Type = iota
	TypePut
	TypeCall
	TypeNone
)

func (t Type) String() string {
	switch t {
	case TypeAll:
		return "all"
	case TypePut:
		return "put"
	case TypeCall:
		return "call"
	case TypeNone:
		return "none"
	}
	return "unknown"
}

// Valid reports whether t is a tradable option type.
func (t Type) Valid() bool {
	return t == TypePut || t == TypeCall
}

// State is a position's lifecycle state. Exercised and Unlocked are
// terminal, mutually exclusive and irreversible.
type State uint8

const (
	StateActive State = iota
	StateExercised
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExercised:
		return "exercised"
	case StateUnlocked:
		return "unlocked"
	}
	return "unknown"
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s != StateActive
}

// Slot groups fungible option terms. A slot is created implicitly the first
// time a (strike, expiration, type) combination is issued and is immutable
// while positions exist against it; parameter updates begin a new slot epoch.
type Slot struct {
	ID         uint64
	Strike     amount.Price
	Expiration time.Time
	Type       Type
}

// Position is a fractional, transferable claim within a slot. Units is the
// position's share against MaxUnits; Amount, LockedAmount and Premium scale
// proportionally under split/merge/transfer, with floor-truncation
// remainders retained by the source.
type Position struct {
	ID           uint64
	Owner        token.AccountID
	SlotID       uint64
	Units        uint64
	Amount       amount.Amount
	LockedAmount amount.Amount
	Premium      amount.Amount
	State        State
	Meta         string

	// CreatedStep is the clock step the position was created in; exercise
	// within the same step is rejected.
	CreatedStep uint64
	CreatedAt   time.Time
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
