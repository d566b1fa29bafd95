package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SlotStore is the subset of Repository the allocator needs.
type SlotStore interface {
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ReserveSlot(ctx context.Context, slotID uuid.UUID) error
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error
}

// SlotAllocator owns the invariant that a slot is reserved by at most one
// active appointment. Construct it over a transaction-bound store so the
// slot flip and the appointment write commit together.
type SlotAllocator struct {
	store SlotStore
}

func NewSlotAllocator(store SlotStore) *SlotAllocator {
	return &SlotAllocator{store: store}
}

// Reserve marks the slot booked. ErrSlotNotFound when it does not exist,
// ErrSlotUnavailable when it is already booked or its date has passed.
func (a *SlotAllocator) Reserve(ctx context.Context, slotID uuid.UUID) error {
	if err := a.store.ReserveSlot(ctx, slotID); err != nil {
		return fmt.Errorf("reserve slot %s: %w", slotID, err)
	}
	return nil
}

// Release clears the booked flag; releasing an unbooked slot succeeds.
func (a *SlotAllocator) Release(ctx context.Context, slotID uuid.UUID) error {
	if err := a.store.ReleaseSlot(ctx, slotID); err != nil {
		return fmt.Errorf("release slot %s: %w", slotID, err)
	}
	return nil
}

// Transfer moves a reservation from oldSlotID to newSlotID. The new slot is
// reserved first so a failed transfer leaves the old reservation untouched;
// within a transaction either both flips commit or neither does. Returns the
// newly reserved slot so callers can adopt its date and time.
func (a *SlotAllocator) Transfer(ctx context.Context, oldSlotID, newSlotID uuid.UUID) (*Slot, error) {
	if err := a.Reserve(ctx, newSlotID); err != nil {
		return nil, err
	}
	if err := a.Release(ctx, oldSlotID); err != nil {
		return nil, err
	}
	slot, err := a.store.GetSlotByID(ctx, newSlotID)
	if err != nil {
		return nil, fmt.Errorf("load transferred slot %s: %w", newSlotID, err)
	}
	return slot, nil
}
