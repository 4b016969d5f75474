package canopen

import (
	"fmt"
	"log/slog"
	"sync"
)

type subscription struct {
	id       uint64
	ident    uint32
	mask     uint32
	callback FrameListener
}

func (s subscription) matches(canId uint32) bool {
	return (canId^s.ident)&s.mask == 0
}

// BusManager sits between a single Bus and the protocol objects (SDO, PDO,
// NMT, SYNC, TIME, EMCY, LSS, heartbeat) that all need to both transmit on
// it and receive a filtered slice of its traffic. It owns no transmit
// buffering of its own: Send forwards straight to the underlying Bus, and
// Subscribe/Handle implement the identifier+mask dispatch a plain Bus
// doesn't provide.
type BusManager struct {
	logger *slog.Logger
	mu     sync.Mutex
	bus    Bus
	subs   []subscription
	nextId uint64
	canErr uint16
}

// NewBusManager wraps bus. bus may be nil and set later with SetBus.
func NewBusManager(bus Bus) *BusManager {
	return &BusManager{
		bus:    bus,
		logger: slog.Default(),
	}
}

// SetBus swaps the underlying Bus, e.g. once a network.Connect resolves the
// concrete backend to use.
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

// Bus returns the underlying Bus, or nil if none has been set yet.
func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Handle implements FrameListener: it is what gets registered with the
// underlying Bus, and fans every received frame out to matching
// subscribers. Must not block.
func (bm *BusManager) Handle(frame Frame) {
	canId := frame.ID & CanSffMask
	if frame.ID&CanRtrFlag != 0 {
		canId |= CanRtrFlag
	}
	bm.mu.Lock()
	matched := make([]FrameListener, 0, 1)
	for _, sub := range bm.subs {
		if sub.matches(canId) {
			matched = append(matched, sub.callback)
		}
	}
	bm.mu.Unlock()
	for _, callback := range matched {
		callback.Handle(frame)
	}
}

// Send transmits a frame on the underlying Bus.
func (bm *BusManager) Send(frame Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrInvalidState
	}
	err := bm.bus.Send(frame)
	if err != nil {
		bm.logger.Warn("error sending frame", "id", frame.ID, "err", err)
	}
	return err
}

// Process should be called cyclically; it refreshes the last observed CAN
// controller error bits. Real bus-off/passive-state tracking is left to the
// underlying Bus implementation, which is free to report through a future
// extension point; for now this clears the transient error snapshot.
func (bm *BusManager) Process() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.canErr = 0
	return nil
}

// Error returns the last observed CAN controller error bitmask
// (CanError* constants), as consumed by the EMCY producer's bus-state
// monitoring.
func (bm *BusManager) Error() uint16 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.canErr
}

// Subscribe registers callback for frames whose ID matches ident under
// mask: a frame with identifier canId is delivered when
// (canId ^ ident) & mask == 0. rtr, if set, folds CanRtrFlag into both
// ident and the matching mask so RTR and data frames on the same ID don't
// collide. The returned cancel func removes the subscription; it is safe
// to call more than once.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback FrameListener) (cancel func(), err error) {
	if callback == nil {
		return nil, ErrIllegalArgument
	}
	ident &= CanSffMask
	mask &= CanSffMask
	if rtr {
		ident |= CanRtrFlag
		mask |= CanRtrFlag
	}

	bm.mu.Lock()
	bm.nextId++
	subId := bm.nextId
	bm.subs = append(bm.subs, subscription{id: subId, ident: ident, mask: mask, callback: callback})
	bm.mu.Unlock()

	cancel = func() {
		bm.mu.Lock()
		defer bm.mu.Unlock()
		for i, sub := range bm.subs {
			if sub.id == subId {
				bm.subs = append(bm.subs[:i], bm.subs[i+1:]...)
				return
			}
		}
	}
	return cancel, nil
}

// Unsubscribe removes every subscription previously registered for
// callback on the given ident/mask/rtr combination.
func (bm *BusManager) Unsubscribe(ident uint32, mask uint32, rtr bool, callback FrameListener) error {
	ident &= CanSffMask
	mask &= CanSffMask
	if rtr {
		ident |= CanRtrFlag
		mask |= CanRtrFlag
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	kept := bm.subs[:0]
	removed := false
	for _, sub := range bm.subs {
		if sub.ident == ident && sub.mask == mask && sub.callback == callback {
			removed = true
			continue
		}
		kept = append(kept, sub)
	}
	bm.subs = kept
	if !removed {
		return fmt.Errorf("no matching subscription for id %#x", ident)
	}
	return nil
}
