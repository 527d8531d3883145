// Package ledger implements the slot ledger: the arena of fractional option
// positions and the split/merge/transfer operations over them.
//
// Positions are indexed by integer id. Every operation is validate-then-apply
// under one lock, so a failed call leaves no partial state. All slices are
// floor integer division; truncation remainders stay with the source position,
// and units are only ever redistributed, never created or destroyed.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/events"
)

var (
	ErrInvalidSlot         = errors.New("invalid slot parameters")
	ErrUnknownSlot         = errors.New("unknown slot")
	ErrUnknownPosition     = errors.New("unknown position")
	ErrPositionNotActive   = errors.New("position is not active")
	ErrEmptySplit          = errors.New("empty split units")
	ErrInsufficientUnits   = errors.New("insufficient units")
	ErrUnauthorized        = errors.New("caller is not authorized")
	ErrEmptyMerge          = errors.New("empty merge list")
	ErrSelfMerge           = errors.New("self merge not allowed")
	ErrSlotMismatch        = errors.New("slot mismatch")
	ErrSourceOwnerMismatch = errors.New("source position owner mismatch")
	ErrZeroAddress         = token.ErrZeroAddress
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrStaleSnapshot       = errors.New("position changed since it was read")
)

type slotKey struct {
	strike     amount.Price
	expiration int64
	typ        option.Type
}

// Ledger owns slots and positions. All exported methods are safe for
// concurrent use; mutations are serialized.
type Ledger struct {
	mu        sync.RWMutex
	bus       *events.Bus
	slots     map[uint64]*option.Slot
	slotIDs   map[slotKey]uint64
	positions map[uint64]*option.Position

	nextSlotID     uint64
	nextPositionID uint64
}

func New(bus *events.Bus) *Ledger {
	return &Ledger{
		bus:       bus,
		slots:     make(map[uint64]*option.Slot),
		slotIDs:   make(map[slotKey]uint64),
		positions: make(map[uint64]*option.Position),
	}
}

// EnsureSlot returns the slot for the given terms, creating it on first use.
func (l *Ledger) EnsureSlot(strike amount.Price, expiration time.Time, typ option.Type) (option.Slot, error) {
	if !strike.IsPositive() || expiration.IsZero() || !typ.Valid() {
		return option.Slot{}, ErrInvalidSlot
	}
	key := slotKey{strike: strike, expiration: expiration.Unix(), typ: typ}

	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.slotIDs[key]; ok {
		return *l.slots[id], nil
	}
	l.nextSlotID++
	s := &option.Slot{ID: l.nextSlotID, Strike: strike, Expiration: expiration, Type: typ}
	l.slots[s.ID] = s
	l.slotIDs[key] = s.ID
	return *s, nil
}

// Slot returns the slot with the given id.
func (l *Ledger) Slot(id uint64) (option.Slot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.slots[id]
	if !ok {
		return option.Slot{}, ErrUnknownSlot
	}
	return *s, nil
}

// MintParams are the initial values of a freshly created position.
type MintParams struct {
	SlotID       uint64
	Owner        token.AccountID
	Amount       amount.Amount
	LockedAmount amount.Amount
	Premium      amount.Amount
	Meta         string
	CreatedStep  uint64
	CreatedAt    time.Time
}

// Mint creates a new fully owned position (units = option.MaxUnits) in the
// given slot and returns its id.
func (l *Ledger) Mint(p MintParams) (uint64, error) {
	if p.Owner == token.Zero {
		return 0, ErrZeroAddress
	}

	l.mu.Lock()
	if _, ok := l.slots[p.SlotID]; !ok {
		l.mu.Unlock()
		return 0, ErrInvalidSlot
	}
	l.nextPositionID++
	pos := &option.Position{
		ID:           l.nextPositionID,
		Owner:        p.Owner,
		SlotID:       p.SlotID,
		Units:        option.MaxUnits,
		Amount:       p.Amount,
		LockedAmount: p.LockedAmount,
		Premium:      p.Premium,
		State:        option.StateActive,
		Meta:         p.Meta,
		CreatedStep:  p.CreatedStep,
		CreatedAt:    p.CreatedAt,
	}
	l.positions[pos.ID] = pos
	id := pos.ID
	slotID := pos.SlotID
	l.mu.Unlock()

	l.bus.Publish(events.Record{
		Kind:             events.KindTransferUnits,
		TargetPositionID: id,
		UnitsMoved:       option.MaxUnits,
		From:             token.Zero,
		To:               p.Owner,
		Amount:           p.Amount,
		SlotID:           slotID,
	})
	return id, nil
}

// Get returns a copy of the position with the given id.
func (l *Ledger) Get(id uint64) (option.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	if !ok {
		return option.Position{}, ErrUnknownPosition
	}
	return *pos, nil
}

// OwnerOf returns the owner of a live position. Burned and never-issued ids
// fail alike.
func (l *Ledger) OwnerOf(id uint64) (token.AccountID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	if !ok {
		return token.Zero, ErrUnknownPosition
	}
	return pos.Owner, nil
}

// UnitsOf returns the units of a live position.
func (l *Ledger) UnitsOf(id uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	if !ok {
		return 0, ErrUnknownPosition
	}
	return pos.Units, nil
}

// Split divides a position into new positions carrying the requested unit
// counts, all owned by the same owner. Each slice is computed proportionally
// against the source's values as of the start of the call, floor-divided; the
// source keeps every truncation remainder. Returns the new position ids in
// request order.
func (l *Ledger) Split(caller token.AccountID, id uint64, unitList []uint64) ([]uint64, error) {
	if len(unitList) == 0 {
		return nil, ErrEmptySplit
	}

	l.mu.Lock()
	src, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrUnknownPosition
	}
	if src.State.Terminal() {
		l.mu.Unlock()
		return nil, ErrPositionNotActive
	}
	if caller != src.Owner {
		l.mu.Unlock()
		return nil, ErrUnauthorized
	}
	// Each slice is bounded by the source's units before it is added, so the
	// running total stays far below the uint64 range and cannot wrap.
	var total uint64
	for _, u := range unitList {
		if u == 0 || u > src.Units {
			l.mu.Unlock()
			return nil, ErrInsufficientUnits
		}
		total += u
		if total > src.Units {
			l.mu.Unlock()
			return nil, ErrInsufficientUnits
		}
	}

	// Snapshot the source first: every slice is proportional to the
	// pre-split values, not the running remainder.
	baseUnits := src.Units
	baseAmount := src.Amount
	baseLocked := src.LockedAmount
	basePremium := src.Premium

	newIDs := make([]uint64, 0, len(unitList))
	recs := make([]events.Record, 0, 2*len(unitList))
	var movedAmount, movedLocked, movedPremium amount.Amount

	for _, u := range unitList {
		amt := baseAmount.MulDiv(int64(u), int64(baseUnits))
		locked := baseLocked.MulDiv(int64(u), int64(baseUnits))
		premium := basePremium.MulDiv(int64(u), int64(baseUnits))

		l.nextPositionID++
		pos := &option.Position{
			ID:           l.nextPositionID,
			Owner:        src.Owner,
			SlotID:       src.SlotID,
			Units:        u,
			Amount:       amt,
			LockedAmount: locked,
			Premium:      premium,
			State:        option.StateActive,
			Meta:         src.Meta,
			CreatedStep:  src.CreatedStep,
			CreatedAt:    src.CreatedAt,
		}
		l.positions[pos.ID] = pos
		newIDs = append(newIDs, pos.ID)
		movedAmount = movedAmount.Add(amt)
		movedLocked = movedLocked.Add(locked)
		movedPremium = movedPremium.Add(premium)

		recs = append(recs,
			events.Record{
				Kind:             events.KindSplit,
				PositionID:       id,
				TargetPositionID: pos.ID,
				UnitsMoved:       u,
				From:             src.Owner,
				To:               src.Owner,
				Amount:           amt,
				SlotID:           src.SlotID,
			},
			events.Record{
				Kind:             events.KindTransferUnits,
				TargetPositionID: pos.ID,
				UnitsMoved:       u,
				From:             token.Zero,
				To:               src.Owner,
				Amount:           amt,
				SlotID:           src.SlotID,
			})
	}

	src.Units -= total
	src.Amount = src.Amount.Sub(movedAmount)
	src.LockedAmount = src.LockedAmount.Sub(movedLocked)
	src.Premium = src.Premium.Sub(movedPremium)
	l.mu.Unlock()

	for _, rec := range recs {
		l.bus.Publish(rec)
	}
	return newIDs, nil
}

// Merge folds the source positions into the target and burns them. The
// caller must own the target and every source; all positions must share the
// target's slot.
func (l *Ledger) Merge(caller token.AccountID, sourceIDs []uint64, targetID uint64) error {
	if len(sourceIDs) == 0 {
		return ErrEmptyMerge
	}
	for _, id := range sourceIDs {
		if id == targetID {
			return ErrSelfMerge
		}
	}

	l.mu.Lock()
	target, ok := l.positions[targetID]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownPosition
	}
	if target.State.Terminal() {
		l.mu.Unlock()
		return ErrPositionNotActive
	}
	if caller != target.Owner {
		l.mu.Unlock()
		return ErrUnauthorized
	}

	sources := make([]*option.Position, 0, len(sourceIDs))
	seen := make(map[uint64]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, dup := seen[id]; dup {
			l.mu.Unlock()
			return ErrSelfMerge
		}
		seen[id] = struct{}{}
		src, ok := l.positions[id]
		if !ok {
			l.mu.Unlock()
			return ErrUnknownPosition
		}
		if src.State.Terminal() {
			l.mu.Unlock()
			return ErrPositionNotActive
		}
		if src.Owner != caller {
			l.mu.Unlock()
			return ErrUnauthorized
		}
		if src.SlotID != target.SlotID {
			l.mu.Unlock()
			return ErrSlotMismatch
		}
		sources = append(sources, src)
	}

	recs := make([]events.Record, 0, 2*len(sources))
	for _, src := range sources {
		target.Units += src.Units
		target.Amount = target.Amount.Add(src.Amount)
		target.LockedAmount = target.LockedAmount.Add(src.LockedAmount)
		target.Premium = target.Premium.Add(src.Premium)

		recs = append(recs,
			events.Record{
				Kind:             events.KindMerge,
				PositionID:       src.ID,
				TargetPositionID: targetID,
				UnitsMoved:       src.Units,
				From:             caller,
				To:               caller,
				Amount:           src.Amount,
				SlotID:           target.SlotID,
			},
			events.Record{
				Kind:       events.KindTransferUnits,
				PositionID: src.ID,
				UnitsMoved: src.Units,
				From:       caller,
				To:         token.Zero,
				Amount:     src.Amount,
				SlotID:     target.SlotID,
			})
		delete(l.positions, src.ID)
	}
	l.mu.Unlock()

	for _, rec := range recs {
		l.bus.Publish(rec)
	}
	return nil
}

// TransferUnits moves units from a source position to another owner. With
// targetID zero a new position is minted for the recipient; otherwise the
// slice is folded into the recipient's existing position, which must share
// the source's slot. Returns the id of the receiving position.
func (l *Ledger) TransferUnits(caller, from, to token.AccountID, sourceID, targetID uint64, units uint64) (uint64, error) {
	if to == token.Zero {
		return 0, ErrZeroAddress
	}

	l.mu.Lock()
	src, ok := l.positions[sourceID]
	if !ok {
		l.mu.Unlock()
		return 0, ErrUnknownPosition
	}
	if src.State.Terminal() {
		l.mu.Unlock()
		return 0, ErrPositionNotActive
	}
	if from != src.Owner || caller != from {
		l.mu.Unlock()
		return 0, ErrSourceOwnerMismatch
	}
	if units == 0 || units > src.Units {
		l.mu.Unlock()
		return 0, ErrInsufficientUnits
	}

	amt := src.Amount.MulDiv(int64(units), int64(src.Units))
	locked := src.LockedAmount.MulDiv(int64(units), int64(src.Units))
	premium := src.Premium.MulDiv(int64(units), int64(src.Units))

	var dstID uint64
	if targetID == 0 {
		l.nextPositionID++
		dst := &option.Position{
			ID:           l.nextPositionID,
			Owner:        to,
			SlotID:       src.SlotID,
			Units:        units,
			Amount:       amt,
			LockedAmount: locked,
			Premium:      premium,
			State:        option.StateActive,
			Meta:         src.Meta,
			CreatedStep:  src.CreatedStep,
			CreatedAt:    src.CreatedAt,
		}
		l.positions[dst.ID] = dst
		dstID = dst.ID
	} else {
		dst, ok := l.positions[targetID]
		if !ok {
			l.mu.Unlock()
			return 0, ErrUnknownPosition
		}
		if dst.State.Terminal() {
			l.mu.Unlock()
			return 0, ErrPositionNotActive
		}
		if dst.Owner != to {
			l.mu.Unlock()
			return 0, ErrUnauthorized
		}
		if dst.SlotID != src.SlotID {
			l.mu.Unlock()
			return 0, ErrSlotMismatch
		}
		dst.Units += units
		dst.Amount = dst.Amount.Add(amt)
		dst.LockedAmount = dst.LockedAmount.Add(locked)
		dst.Premium = dst.Premium.Add(premium)
		dstID = dst.ID
	}

	src.Units -= units
	src.Amount = src.Amount.Sub(amt)
	src.LockedAmount = src.LockedAmount.Sub(locked)
	src.Premium = src.Premium.Sub(premium)
	slotID := src.SlotID
	l.mu.Unlock()

	l.bus.Publish(events.Record{
		Kind:             events.KindTransferUnits,
		PositionID:       sourceID,
		TargetPositionID: dstID,
		UnitsMoved:       units,
		From:             from,
		To:               to,
		Amount:           amt,
		SlotID:           slotID,
	})
	return dstID, nil
}

// Transition moves a position from Active to a terminal state.
func (l *Ledger) Transition(id uint64, to option.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[id]
	if !ok {
		return ErrUnknownPosition
	}
	if pos.State.Terminal() || !to.Terminal() {
		return ErrInvalidTransition
	}
	pos.State = to
	return nil
}

// Settle moves an Active position to a terminal state, but only if its units,
// amount, locked collateral and owner still match the snapshot the caller
// computed settlement against. A mismatch means a split, merge or transfer
// landed in between; the caller must re-read and start over. Settling is the
// commit point of exercise and unlock: once a position is terminal no ledger
// operation can touch it again.
func (l *Ledger) Settle(id uint64, snapshot option.Position, to option.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[id]
	if !ok {
		return ErrUnknownPosition
	}
	if pos.State.Terminal() || !to.Terminal() {
		return ErrInvalidTransition
	}
	if pos.Units != snapshot.Units || pos.Amount != snapshot.Amount ||
		pos.LockedAmount != snapshot.LockedAmount || pos.Owner != snapshot.Owner {
		return ErrStaleSnapshot
	}
	pos.State = to
	return nil
}

// Snapshot returns a copy of every live position.
func (l *Ledger) Snapshot() []option.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]option.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}
