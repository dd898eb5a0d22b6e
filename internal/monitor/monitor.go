package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"station-booking-backend/internal/model"
	"station-booking-backend/internal/slot"
	"station-booking-backend/internal/store"
)

// SlotStore is the slice of the availability store the monitor needs.
type SlotStore interface {
	GetSlot(ctx context.Context, machineID int64, date, slotID string) (*model.BookedSlot, error)
	GetAvailability(ctx context.Context, machineID int64, date string) (*model.MachineAvailability, error)
	FinalizeSlot(ctx context.Context, slotID, endTime string, expectedVersion int64) error
	ListInUseSlots(ctx context.Context) ([]store.InUseSlot, error)
	ReleaseStaleReservations(ctx context.Context, now time.Time, ttl time.Duration) (int64, error)
}

// Notifier dispatches a "station free" notification for a machine.
type Notifier interface {
	Dispatch(machineID int64)
}

type timerKey struct {
	machineID int64
	slotID    string
}

// Monitor autonomously closes out occupied slots. Each occupied slot gets
// one armed timer, keyed by (machine, slot); the timer fires at the slot's
// original scheduled end and resolves the true end time against the next
// booking. All of this is advisory: a racing manual close simply wins the
// version check and the monitor stands down.
type Monitor struct {
	mu     sync.Mutex
	timers map[timerKey]Timer

	store SlotStore
	clock Clock
	loc   *time.Location

	grace             time.Duration
	reconcileInterval time.Duration
	reservationTTL    time.Duration

	notifier Notifier
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the system clock, for tests.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithNotifier wires the notification pool pinged when a station frees up.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithReconcileInterval sets the period of the reconciliation sweep.
func WithReconcileInterval(d time.Duration) Option {
	return func(m *Monitor) { m.reconcileInterval = d }
}

// WithReservationTTL sets the age after which an unconfirmed reservation is
// released.
func WithReservationTTL(d time.Duration) Option {
	return func(m *Monitor) { m.reservationTTL = d }
}

// New creates a slot monitor. grace is the hard ceiling a slot may run past
// its scheduled end when no conflicting booking follows.
func New(s SlotStore, grace time.Duration, loc *time.Location, opts ...Option) *Monitor {
	if loc == nil {
		loc = time.UTC
	}
	m := &Monitor{
		timers:            make(map[timerKey]Timer),
		store:             s,
		clock:             NewRealClock(),
		loc:               loc,
		grace:             grace,
		reconcileInterval: 5 * time.Minute,
		reservationTTL:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SlotOccupied implements store.LifecycleHooks.
func (m *Monitor) SlotOccupied(machineID int64, date, slotID string) {
	m.StartMonitoring(machineID, date, slotID)
}

// SlotClosed implements store.LifecycleHooks.
func (m *Monitor) SlotClosed(machineID int64, slotID string) {
	m.StopMonitoring(machineID, slotID)
	if m.notifier != nil {
		m.notifier.Dispatch(machineID)
	}
}

// StartMonitoring arms a timer for an occupied slot. Best-effort: if the
// slot is missing or not in use, it logs and returns without effect.
func (m *Monitor) StartMonitoring(machineID int64, date, slotID string) {
	ctx := context.Background()

	current, err := m.store.GetSlot(ctx, machineID, date, slotID)
	if err != nil {
		log.Printf("monitor: cannot load slot %s on machine %d: %v", slotID, machineID, err)
		return
	}
	if slot.Status(current.Status) != slot.StatusInUse {
		log.Printf("monitor: slot %s on machine %d is %q, not in use; nothing to monitor", slotID, machineID, current.Status)
		return
	}

	originalStart, err := slot.ResolveClock(date, current.StartTime, m.loc)
	if err != nil {
		log.Printf("monitor: slot %s has unresolvable start time: %v", slotID, err)
		return
	}
	originalEnd, err := slot.ResolveClock(date, current.EndTime, m.loc)
	if err != nil {
		log.Printf("monitor: slot %s has unresolvable end time: %v", slotID, err)
		return
	}

	now := m.clock.Now()
	bookedDuration := originalEnd.Sub(originalStart)

	// A late start still earns the full paid duration, capped by the grace
	// ceiling past the original schedule.
	fullDurationEnd := now.Add(bookedDuration)
	maxExtensionTime := originalEnd.Add(m.grace)
	potentialEndTime := fullDurationEnd
	if maxExtensionTime.Before(potentialEndTime) {
		potentialEndTime = maxExtensionTime
	}

	// The checkpoint is the original scheduled end: that is the moment the
	// next reservation's window opens, so the decision must be made there.
	delay := originalEnd.Sub(now)
	if delay < 0 {
		delay = 0
	}

	k := timerKey{machineID: machineID, slotID: slotID}
	m.mu.Lock()
	if prior, ok := m.timers[k]; ok {
		prior.Stop()
	}
	// Arm while holding the lock. An already-due timer fires on its own
	// goroutine and its removal blocks on the mutex, so the registry entry
	// is always inserted before the fired callback can clean it up.
	m.timers[k] = m.clock.AfterFunc(delay, func() {
		m.checkAndUpdateSlot(machineID, date, slotID, originalEnd, potentialEndTime)
	})
	m.mu.Unlock()

	log.Printf("monitor: watching slot %s on machine %d, checkpoint %s, potential end %s",
		slotID, machineID, originalEnd.Format(time.RFC3339), potentialEndTime.Format(time.RFC3339))
}

// StopMonitoring cancels and removes the timer for a slot. Idempotent; a
// missing key is a no-op.
func (m *Monitor) StopMonitoring(machineID int64, slotID string) {
	k := timerKey{machineID: machineID, slotID: slotID}
	m.mu.Lock()
	timer, ok := m.timers[k]
	if ok {
		timer.Stop()
		delete(m.timers, k)
	}
	m.mu.Unlock()
	if ok {
		log.Printf("monitor: stopped watching slot %s on machine %d", slotID, machineID)
	}
}

// checkAndUpdateSlot runs when a slot's timer fires. It re-reads the day's
// bookings, clamps the occupant's end time to the next reservation if one
// falls inside the potential window, and commits the terminal write keyed on
// the freshly observed version.
func (m *Monitor) checkAndUpdateSlot(machineID int64, date, slotID string, originalEnd, potentialEndTime time.Time) {
	defer m.removeTimer(machineID, slotID)

	ctx := context.Background()
	availability, err := m.store.GetAvailability(ctx, machineID, date)
	if err != nil {
		log.Printf("monitor: cannot re-read availability for machine %d on %s: %v", machineID, date, err)
		return
	}

	var current *model.BookedSlot
	for i := range availability.Slots {
		if availability.Slots[i].ID == slotID {
			current = &availability.Slots[i]
			break
		}
	}
	if current == nil {
		log.Printf("monitor: slot %s vanished from machine %d on %s; nothing to finalize", slotID, machineID, date)
		return
	}
	if slot.Status(current.Status) != slot.StatusInUse {
		// Manually closed while the timer was armed. The desired end state
		// is already in place.
		log.Printf("monitor: slot %s already %q; standing down", slotID, current.Status)
		return
	}

	actualEnd := potentialEndTime
	if next, ok := m.nextBooking(availability.Slots, slotID, date, originalEnd, potentialEndTime); ok {
		actualEnd = next
	}

	endClock := slot.FormatClock(actualEnd, m.loc)
	err = m.store.FinalizeSlot(ctx, slotID, endClock, current.Version)
	switch {
	case err == nil:
		log.Printf("monitor: closed slot %s on machine %d at %s", slotID, machineID, endClock)
		if m.notifier != nil {
			m.notifier.Dispatch(machineID)
		}
	case errors.Is(err, store.ErrConcurrentModification):
		// Someone beat the timer to the terminal write; that is the outcome
		// we wanted anyway.
		log.Printf("monitor: slot %s was finalized by another writer; standing down", slotID)
	default:
		log.Printf("monitor: failed to finalize slot %s on machine %d: %v", slotID, machineID, err)
	}
}

// nextBooking finds the start of the earliest booked sibling whose start
// falls strictly after originalEnd and no later than potentialEndTime.
func (m *Monitor) nextBooking(slots []model.BookedSlot, selfID, date string, originalEnd, potentialEndTime time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, sibling := range slots {
		if sibling.ID == selfID || slot.Status(sibling.Status) != slot.StatusBooked {
			continue
		}
		start, err := slot.ResolveClock(date, sibling.StartTime, m.loc)
		if err != nil {
			log.Printf("monitor: skipping sibling %s with bad start time %q: %v", sibling.ID, sibling.StartTime, err)
			continue
		}
		if !start.After(originalEnd) || start.After(potentialEndTime) {
			continue
		}
		if !found || start.Before(earliest) {
			earliest = start
			found = true
		}
	}
	return earliest, found
}

func (m *Monitor) removeTimer(machineID int64, slotID string) {
	k := timerKey{machineID: machineID, slotID: slotID}
	m.mu.Lock()
	delete(m.timers, k)
	m.mu.Unlock()
}

// Watching reports whether a timer is armed for the slot.
func (m *Monitor) Watching(machineID int64, slotID string) bool {
	k := timerKey{machineID: machineID, slotID: slotID}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[k]
	return ok
}

// Run drives the reconciliation sweep until the context is cancelled. Armed
// timers do not survive a restart, so every cycle re-arms monitoring for any
// occupied slot missing from the registry and releases stale unconfirmed
// reservations.
func (m *Monitor) Run(ctx context.Context) {
	log.Println("Starting slot monitor reconciliation loop...")

	m.reconcile(ctx)

	timer := time.NewTimer(m.reconcileInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Slot monitor shutting down.")
			m.Shutdown()
			return
		case <-timer.C:
			m.reconcile(ctx)
			timer.Reset(m.reconcileInterval)
		}
	}
}

// reconcile performs one sweep: re-arm lost timers, release stale holds.
func (m *Monitor) reconcile(ctx context.Context) {
	inUse, err := m.store.ListInUseSlots(ctx)
	if err != nil {
		log.Printf("monitor: reconciliation sweep failed to list in-use slots: %v", err)
	} else {
		for _, occupied := range inUse {
			if m.Watching(occupied.MachineID, occupied.SlotID) {
				continue
			}
			log.Printf("monitor: re-arming lost timer for slot %s on machine %d", occupied.SlotID, occupied.MachineID)
			m.StartMonitoring(occupied.MachineID, occupied.Date, occupied.SlotID)
		}
	}

	released, err := m.store.ReleaseStaleReservations(ctx, m.clock.Now(), m.reservationTTL)
	if err != nil {
		log.Printf("monitor: stale reservation release failed: %v", err)
	} else if released > 0 {
		log.Printf("monitor: released %d stale unconfirmed reservations", released)
	}
}

// Shutdown stops every armed timer and clears the registry.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	for k, timer := range m.timers {
		timer.Stop()
		delete(m.timers, k)
	}
	m.mu.Unlock()
}
