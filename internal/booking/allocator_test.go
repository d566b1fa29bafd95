package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocatorFixture(t *testing.T) (*memRepo, *SlotAllocator, *Slot, *Slot) {
	t.Helper()

	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := newMemRepo(today)

	doctorID := uuid.New()
	date := today.AddDate(0, 0, 2)
	a := &Slot{ID: uuid.New(), DoctorID: doctorID, AvailableDate: date, StartTime: "10:00:00", EndTime: "10:30:00"}
	b := &Slot{ID: uuid.New(), DoctorID: doctorID, AvailableDate: date, StartTime: "11:00:00", EndTime: "11:30:00"}
	repo.slots[a.ID] = a
	repo.slots[b.ID] = b

	return repo, NewSlotAllocator(repo), a, b
}

func TestSlotAllocatorReserve(t *testing.T) {
	_, alloc, a, _ := allocatorFixture(t)
	ctx := context.Background()

	require.NoError(t, alloc.Reserve(ctx, a.ID))
	assert.True(t, a.IsBooked)

	err := alloc.Reserve(ctx, a.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable, "second reserve of the same slot must conflict")

	err = alloc.Reserve(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestSlotAllocatorReleaseIdempotent(t *testing.T) {
	_, alloc, a, _ := allocatorFixture(t)
	ctx := context.Background()

	require.NoError(t, alloc.Reserve(ctx, a.ID))
	require.NoError(t, alloc.Release(ctx, a.ID))
	assert.False(t, a.IsBooked)

	require.NoError(t, alloc.Release(ctx, a.ID), "releasing an unbooked slot is a no-op success")
	assert.False(t, a.IsBooked)
}

func TestSlotAllocatorTransfer(t *testing.T) {
	t.Run("moves the reservation", func(t *testing.T) {
		_, alloc, a, b := allocatorFixture(t)
		ctx := context.Background()

		require.NoError(t, alloc.Reserve(ctx, a.ID))

		moved, err := alloc.Transfer(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, moved.ID)
		assert.Equal(t, "11:00:00", moved.StartTime)
		assert.False(t, a.IsBooked)
		assert.True(t, b.IsBooked)
	})

	t.Run("failed reserve leaves the old reservation", func(t *testing.T) {
		_, alloc, a, b := allocatorFixture(t)
		ctx := context.Background()

		require.NoError(t, alloc.Reserve(ctx, a.ID))
		b.IsBooked = true

		_, err := alloc.Transfer(ctx, a.ID, b.ID)
		assert.ErrorIs(t, err, ErrSlotUnavailable)
		assert.True(t, a.IsBooked, "old slot must stay reserved when the transfer fails")
	})
}
