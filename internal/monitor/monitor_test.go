package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"station-booking-backend/internal/model"
	"station-booking-backend/internal/slot"
	"station-booking-backend/internal/store"
)

// fakeClock fires timers deterministically when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

// Advance moves the clock and fires due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type finalizeCall struct {
	slotID  string
	endTime string
	version int64
}

// fakeStore is an in-memory SlotStore for one machine-day.
type fakeStore struct {
	mu        sync.Mutex
	machineID int64
	date      string
	slots     map[string]*model.BookedSlot
	finalized []finalizeCall
	released  int64
}

func newFakeStore(machineID int64, date string) *fakeStore {
	return &fakeStore{
		machineID: machineID,
		date:      date,
		slots:     make(map[string]*model.BookedSlot),
	}
}

func (f *fakeStore) addSlot(id, start, end string, status slot.Status, version int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[id] = &model.BookedSlot{
		ID:        id,
		StartTime: start,
		EndTime:   end,
		Status:    string(status),
		IsBooked:  status != slot.StatusDone,
		Version:   version,
	}
}

func (f *fakeStore) GetSlot(ctx context.Context, machineID int64, date, slotID string) (*model.BookedSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok || machineID != f.machineID || date != f.date {
		return nil, fmt.Errorf("slot %s: %w", slotID, store.ErrSlotNotFound)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) GetAvailability(ctx context.Context, machineID int64, date string) (*model.MachineAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if machineID != f.machineID || date != f.date {
		return nil, fmt.Errorf("machine %d on %s: %w", machineID, date, store.ErrAvailabilityNotFound)
	}
	availability := &model.MachineAvailability{MachineID: machineID, Date: date}
	for _, s := range f.slots {
		availability.Slots = append(availability.Slots, *s)
	}
	return availability, nil
}

func (f *fakeStore) FinalizeSlot(ctx context.Context, slotID, endTime string, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok {
		return fmt.Errorf("slot %s: %w", slotID, store.ErrSlotNotFound)
	}
	if s.Version != expectedVersion {
		return fmt.Errorf("slot %s: %w", slotID, store.ErrConcurrentModification)
	}
	s.Status = string(slot.StatusDone)
	s.IsBooked = false
	s.EndTime = endTime
	s.Version++
	f.finalized = append(f.finalized, finalizeCall{slotID: slotID, endTime: endTime, version: expectedVersion})
	return nil
}

func (f *fakeStore) ListInUseSlots(ctx context.Context) ([]store.InUseSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.InUseSlot
	for id, s := range f.slots {
		if s.Status == string(slot.StatusInUse) {
			out = append(out, store.InUseSlot{MachineID: f.machineID, Date: f.date, SlotID: id})
		}
	}
	return out, nil
}

func (f *fakeStore) ReleaseStaleReservations(ctx context.Context, now time.Time, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return 0, nil
}

func (f *fakeStore) slotState(id string) model.BookedSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.slots[id]
}

type fakeNotifier struct {
	mu       sync.Mutex
	machines []int64
}

func (n *fakeNotifier) Dispatch(machineID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.machines = append(n.machines, machineID)
}

const testDate = "2025-03-01"

func at(t *testing.T, clock string) time.Time {
	t.Helper()
	resolved, err := slot.ResolveClock(testDate, clock, time.UTC)
	require.NoError(t, err)
	return resolved
}

func newTestMonitor(t *testing.T, fs *fakeStore, clock *fakeClock) *Monitor {
	t.Helper()
	return New(fs, 30*time.Minute, time.UTC, WithClock(clock))
}

func TestMonitorClampsToNextBooking(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 3)
	fs.addSlot("b", "11:15", "12:00", slot.StatusBooked, 1)

	// Occupant started 20 minutes late: full duration would run to 11:20,
	// inside the grace ceiling of 11:30, so the next booking at 11:15 clamps.
	clock := newFakeClock(at(t, "10:20"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	assert.True(t, m.Watching(7, "a"))

	clock.Advance(40 * time.Minute) // checkpoint at 11:00

	final := fs.slotState("a")
	assert.Equal(t, string(slot.StatusDone), final.Status)
	assert.False(t, final.IsBooked)
	assert.Equal(t, "11:15", final.EndTime)
	assert.Equal(t, int64(4), final.Version)
	assert.False(t, m.Watching(7, "a"))
}

func TestMonitorOnTimeStartNoSibling(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 2)

	// Started exactly on time: full duration end, grace ceiling and original
	// end all coincide at 11:00.
	clock := newFakeClock(at(t, "10:00"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	clock.Advance(time.Hour)

	final := fs.slotState("a")
	assert.Equal(t, string(slot.StatusDone), final.Status)
	assert.Equal(t, "11:00", final.EndTime)
}

func TestMonitorGraceCeiling(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	// Started 45 minutes late: full duration would run to 11:45, but the
	// ceiling is originalEnd + 30m = 11:30.
	clock := newFakeClock(at(t, "10:45"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	clock.Advance(15 * time.Minute)

	final := fs.slotState("a")
	assert.Equal(t, "11:30", final.EndTime)
}

func TestMonitorLateStartKeepsFullDuration(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:20"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	clock.Advance(40 * time.Minute)

	final := fs.slotState("a")
	assert.Equal(t, "11:20", final.EndTime)
}

func TestMonitorSiblingBeyondPotentialWindowIgnored(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)
	// Next booking starts after the potential end (11:20), so it cannot
	// clamp anything.
	fs.addSlot("b", "11:45", "12:30", slot.StatusBooked, 1)

	clock := newFakeClock(at(t, "10:20"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	clock.Advance(40 * time.Minute)

	assert.Equal(t, "11:20", fs.slotState("a").EndTime)
}

func TestMonitorManualClosePreempts(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 2)

	clock := newFakeClock(at(t, "10:00"))
	m := newTestMonitor(t, fs, clock)
	m.StartMonitoring(7, testDate, "a")

	// The occupant checks out manually before the timer fires.
	fs.mu.Lock()
	fs.slots["a"].Status = string(slot.StatusDone)
	fs.slots["a"].IsBooked = false
	fs.slots["a"].EndTime = "10:40"
	fs.slots["a"].Version = 3
	fs.mu.Unlock()

	clock.Advance(time.Hour)

	// The monitor must stand down without touching the slot.
	assert.Empty(t, fs.finalized)
	assert.Equal(t, "10:40", fs.slotState("a").EndTime)
	assert.False(t, m.Watching(7, "a"))
}

// conflictStore makes every terminal write lose the version race, as if a
// manual close always lands between the timer's read and its commit.
type conflictStore struct {
	*fakeStore
}

func (c *conflictStore) FinalizeSlot(ctx context.Context, slotID, endTime string, expectedVersion int64) error {
	return fmt.Errorf("slot %s: %w", slotID, store.ErrConcurrentModification)
}

func TestMonitorVersionConflictIsANoOp(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 2)

	clock := newFakeClock(at(t, "10:00"))
	m := New(&conflictStore{fakeStore: fs}, 30*time.Minute, time.UTC, WithClock(clock))
	m.StartMonitoring(7, testDate, "a")

	clock.Advance(time.Hour)

	// Losing the race is the expected outcome, not an error: the slot is
	// untouched and the registry entry is gone.
	assert.Empty(t, fs.finalized)
	assert.Equal(t, string(slot.StatusInUse), fs.slotState("a").Status)
	assert.False(t, m.Watching(7, "a"))
}

// dueClock fires zero-delay timers on their own goroutine the moment they are
// armed, the way the real clock handles an already-overdue checkpoint.
type dueClock struct {
	*fakeClock
	wg sync.WaitGroup
}

func (c *dueClock) AfterFunc(d time.Duration, f func()) Timer {
	if d > 0 {
		return c.fakeClock.AfterFunc(d, f)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
	return &fakeTimer{}
}

func TestOverdueSlotLeavesNoRegistryEntry(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	// The checkpoint is an hour in the past, so the timer fires immediately,
	// racing StartMonitoring's own bookkeeping.
	clock := &dueClock{fakeClock: newFakeClock(at(t, "12:00"))}
	m := New(fs, 30*time.Minute, time.UTC, WithClock(clock))

	m.StartMonitoring(7, testDate, "a")
	clock.wg.Wait()

	assert.Equal(t, string(slot.StatusDone), fs.slotState("a").Status)
	assert.Equal(t, "11:30", fs.slotState("a").EndTime)
	assert.False(t, m.Watching(7, "a"), "a fired timer must not stay registered")
}

func TestStopMonitoringIsIdempotent(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:00"))
	m := newTestMonitor(t, fs, clock)
	m.StartMonitoring(7, testDate, "a")
	require.True(t, m.Watching(7, "a"))

	m.StopMonitoring(7, "a")
	assert.False(t, m.Watching(7, "a"))

	// Second call is a no-op, not an error.
	m.StopMonitoring(7, "a")
	assert.False(t, m.Watching(7, "a"))

	// A cancelled timer must never fire.
	clock.Advance(2 * time.Hour)
	assert.Empty(t, fs.finalized)
	assert.Equal(t, string(slot.StatusInUse), fs.slotState("a").Status)
}

func TestStartMonitoringRequiresInUse(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusBooked, 1)

	clock := newFakeClock(at(t, "09:00"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	assert.False(t, m.Watching(7, "a"), "a slot that is not in use must not be monitored")

	m.StartMonitoring(7, testDate, "missing")
	assert.False(t, m.Watching(7, "missing"))
}

func TestStartMonitoringEvictsPriorTimer(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:00"))
	m := newTestMonitor(t, fs, clock)

	m.StartMonitoring(7, testDate, "a")
	m.StartMonitoring(7, testDate, "a")

	clock.Advance(time.Hour)
	assert.Len(t, fs.finalized, 1, "re-registration must evict the prior timer, not double-fire")
}

func TestMonitorNotifiesOnAutoClose(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:00"))
	notifier := &fakeNotifier{}
	m := New(fs, 30*time.Minute, time.UTC, WithClock(clock), WithNotifier(notifier))

	m.StartMonitoring(7, testDate, "a")
	clock.Advance(time.Hour)

	assert.Equal(t, []int64{7}, notifier.machines)
}

func TestLifecycleHooks(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:00"))
	notifier := &fakeNotifier{}
	m := New(fs, 30*time.Minute, time.UTC, WithClock(clock), WithNotifier(notifier))

	m.SlotOccupied(7, testDate, "a")
	assert.True(t, m.Watching(7, "a"))

	m.SlotClosed(7, "a")
	assert.False(t, m.Watching(7, "a"))
	assert.Equal(t, []int64{7}, notifier.machines, "a manual close still notifies subscribers")
}

func TestReconcileRearmsLostTimers(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:30"))
	m := newTestMonitor(t, fs, clock)

	// Simulate a restart: the slot is occupied but no timer exists.
	require.False(t, m.Watching(7, "a"))
	m.reconcile(context.Background())
	assert.True(t, m.Watching(7, "a"))
	assert.Equal(t, int64(1), fs.released, "the sweep also runs the stale-reservation release")

	clock.Advance(30 * time.Minute)
	assert.Equal(t, string(slot.StatusDone), fs.slotState("a").Status)
}

func TestShutdownStopsAllTimers(t *testing.T) {
	fs := newFakeStore(7, testDate)
	fs.addSlot("a", "10:00", "11:00", slot.StatusInUse, 1)
	fs.addSlot("b", "12:00", "13:00", slot.StatusInUse, 1)

	clock := newFakeClock(at(t, "10:00"))
	m := newTestMonitor(t, fs, clock)
	m.StartMonitoring(7, testDate, "a")
	m.StartMonitoring(7, testDate, "b")

	m.Shutdown()
	assert.False(t, m.Watching(7, "a"))
	assert.False(t, m.Watching(7, "b"))

	clock.Advance(4 * time.Hour)
	assert.Empty(t, fs.finalized)
}
