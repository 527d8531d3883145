package positionstore

import (
	"github.com/sirupsen/logrus"

	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/events"
)

// Archiver listens for terminal audit records and persists the final
// snapshot of each closed position.
type Archiver struct {
	store *Store
	led   *ledger.Ledger
	bus   *events.Bus
	log   *logrus.Entry
	fn    func(events.Record)
}

func NewArchiver(store *Store, led *ledger.Ledger, bus *events.Bus, log *logrus.Entry) (*Archiver, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &Archiver{store: store, led: led, bus: bus, log: log}
	a.fn = a.handle
	if err := bus.Subscribe(a.fn); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archiver) handle(rec events.Record) {
	if rec.Kind != events.KindExercised && rec.Kind != events.KindUnlocked {
		return
	}
	pos, err := a.led.Get(rec.PositionID)
	if err != nil {
		a.log.WithError(err).WithField("position", rec.PositionID).Warn("archiver: position lookup failed")
		return
	}
	if err := a.store.Put(pos); err != nil {
		a.log.WithError(err).WithField("position", rec.PositionID).Error("archiver: persist failed")
		return
	}
	a.log.WithFields(logrus.Fields{
		"position": rec.PositionID,
		"state":    pos.State,
	}).Debug("position archived")
}

// Close unsubscribes the archiver from the bus.
func (a *Archiver) Close() error {
	return a.bus.Unsubscribe(a.fn)
}
