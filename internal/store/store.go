package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"station-booking-backend/internal/model"
	"station-booking-backend/internal/slot"
)

// Store defines the interface for all database operations.
type Store interface {
	CreateSlot(ctx context.Context, machineID int64, date, startTime, endTime string) (*model.BookedSlot, error)
	UpdateSlotStatus(ctx context.Context, machineID int64, date, slotID string, newStatus slot.Status) (*model.BookedSlot, error)
	AlterBookingSlot(ctx context.Context, slotID string, minutes int, action AlterAction) (*model.BookedSlot, error)
	FinalizeSlot(ctx context.Context, slotID, endTime string, expectedVersion int64) error
	ReleaseStaleReservations(ctx context.Context, now time.Time, ttl time.Duration) (int64, error)
	GetAvailability(ctx context.Context, machineID int64, date string) (*model.MachineAvailability, error)
	GetSlot(ctx context.Context, machineID int64, date, slotID string) (*model.BookedSlot, error)
	ListInUseSlots(ctx context.Context) ([]InUseSlot, error)
	ResolveRates(ctx context.Context, queries []RateQuery) ([]float64, error)
	SetLifecycleHooks(h LifecycleHooks)
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db             *gorm.DB
	maxAttempts    int
	initialBackoff time.Duration
	loc            *time.Location
	hooks          LifecycleHooks
}

// NewGormStore creates a new GORM-backed store. maxAttempts bounds the
// optimistic-concurrency retry loop; initialBackoff is the first retry delay,
// doubled on each subsequent attempt.
func NewGormStore(db *gorm.DB, maxAttempts int, initialBackoff time.Duration, loc *time.Location) Store {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if initialBackoff <= 0 {
		initialBackoff = 100 * time.Millisecond
	}
	if loc == nil {
		loc = time.UTC
	}
	return &gormStore{
		db:             db,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		loc:            loc,
	}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// SetLifecycleHooks wires the transition side effects. Set once during
// startup, before the store receives traffic.
func (s *gormStore) SetLifecycleHooks(h LifecycleHooks) {
	s.hooks = h
}

// casUpdate applies fields to a slot only if its stored version still equals
// the observed one, bumping the version by exactly 1 in the same statement.
func casUpdate(tx *gorm.DB, slotID string, observedVersion int64, fields map[string]any) error {
	fields["version"] = observedVersion + 1
	res := tx.Model(&model.BookedSlot{}).
		Where("id = ? AND version = ?", slotID, observedVersion).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("conditional update for slot %s failed: %w", slotID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("slot %s: %w", slotID, ErrConcurrentModification)
	}
	return nil
}

// withRetry runs fn, retrying only on version conflicts. Logical errors pass
// through on the first attempt; retrying them cannot change the outcome.
func (s *gormStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := slot.RetryDelay(attempt-1, s.initialBackoff)
			log.Printf("%s: version conflict, retrying in %v (attempt %d/%d)", op, delay, attempt, s.maxAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

// UpdateSlotStatus drives a slot through the booked -> in-use -> done
// lifecycle using a version-checked conditional write. Exactly one writer
// wins per contested version; losers retry from a fresh read.
func (s *gormStore) UpdateSlotStatus(ctx context.Context, machineID int64, date, slotID string, newStatus slot.Status) (*model.BookedSlot, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}

	var updated model.BookedSlot
	err := s.withRetry(ctx, fmt.Sprintf("update status of slot %s", slotID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := findSlot(tx, machineID, date, slotID)
			if err != nil {
				return err
			}

			if slot.Status(current.Status) == slot.StatusBooked && !current.IsBooked {
				return fmt.Errorf("slot %s: %w", slotID, ErrReservationReleased)
			}

			if err := slot.ValidateTransition(slot.Status(current.Status), newStatus); err != nil {
				return err
			}

			fields := map[string]any{"status": string(newStatus)}
			if newStatus == slot.StatusDone {
				fields["is_booked"] = false
			}
			if err := casUpdate(tx, slotID, current.Version, fields); err != nil {
				return err
			}

			if err := syncMachineStatus(tx, machineID, newStatus); err != nil {
				return err
			}

			return tx.First(&updated, "id = ?", slotID).Error
		})
	})
	if err != nil {
		return nil, err
	}

	// Lifecycle side effects run synchronously before the caller sees the
	// result.
	if s.hooks != nil {
		switch newStatus {
		case slot.StatusInUse:
			s.hooks.SlotOccupied(machineID, date, slotID)
		case slot.StatusDone:
			s.hooks.SlotClosed(machineID, slotID)
		}
	}
	return &updated, nil
}

// syncMachineStatus keeps the machine's operational status in lockstep with
// its slot lifecycle.
func syncMachineStatus(tx *gorm.DB, machineID int64, newStatus slot.Status) error {
	var machineStatus model.MachineStatus
	switch newStatus {
	case slot.StatusInUse:
		machineStatus = model.MachineInUse
	case slot.StatusDone:
		machineStatus = model.MachineAvailable
	default:
		return nil
	}
	return tx.Model(&model.Machine{}).
		Where("id = ?", machineID).
		Update("status", machineStatus).Error
}

// CreateSlot admits a new reservation after checking it against every booked
// sibling on the same machine and day. The availability record is created
// lazily on first booking.
func (s *gormStore) CreateSlot(ctx context.Context, machineID int64, date, startTime, endTime string) (*model.BookedSlot, error) {
	if !slot.ValidDate(date) {
		return nil, fmt.Errorf("%w: bad date %q", ErrValidation, date)
	}
	start, err := slot.ResolveClock(date, startTime, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	end, err := slot.ResolveClock(date, endTime, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %q is not after start %q", ErrValidation, endTime, startTime)
	}

	created := model.BookedSlot{
		ID:         uuid.NewString(),
		StartTime:  startTime,
		EndTime:    endTime,
		Status:     string(slot.StatusBooked),
		IsBooked:   true,
		ReservedAt: time.Now().UTC(),
		Version:    1,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var machine model.Machine
		if err := tx.First(&machine, machineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("machine %d: %w", machineID, ErrMachineNotFound)
			}
			return err
		}

		var availability model.MachineAvailability
		if err := tx.Where(model.MachineAvailability{MachineID: machineID, Date: date}).
			FirstOrCreate(&availability).Error; err != nil {
			return fmt.Errorf("failed to load availability for machine %d on %s: %w", machineID, date, err)
		}

		if err := lockAvailability(tx, availability.ID); err != nil {
			return err
		}

		siblings, err := s.bookedIntervals(tx, availability.ID, date, "")
		if err != nil {
			return err
		}
		if slot.ConflictsAny(slot.Interval{Start: start, End: end}, siblings) {
			return fmt.Errorf("machine %d on %s [%s, %s): %w", machineID, date, startTime, endTime, ErrSlotConflict)
		}

		created.AvailabilityID = availability.ID
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// AlterBookingSlot recomputes a slot's end time by adding or subtracting
// minutes. Extensions must clear the overlap check against booked siblings
// (self excluded); the slot is left untouched on any failure.
func (s *gormStore) AlterBookingSlot(ctx context.Context, slotID string, minutes int, action AlterAction) (*model.BookedSlot, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive, got %d", ErrValidation, minutes)
	}
	if action != AlterExtend && action != AlterReduce {
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}

	var updated model.BookedSlot
	err := s.withRetry(ctx, fmt.Sprintf("alter slot %s", slotID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current model.BookedSlot
			if err := tx.First(&current, "id = ?", slotID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("slot %s: %w", slotID, ErrSlotNotFound)
				}
				return err
			}
			if slot.Status(current.Status) == slot.StatusDone {
				return fmt.Errorf("%w: slot %s is closed", slot.ErrTerminalState, slotID)
			}
			if slot.Status(current.Status) == slot.StatusBooked && !current.IsBooked {
				return fmt.Errorf("slot %s: %w", slotID, ErrReservationReleased)
			}

			var availability model.MachineAvailability
			if err := tx.First(&availability, current.AvailabilityID).Error; err != nil {
				return fmt.Errorf("failed to load availability %d: %w", current.AvailabilityID, err)
			}

			start, err := slot.ResolveClock(availability.Date, current.StartTime, s.loc)
			if err != nil {
				return err
			}
			end, err := slot.ResolveClock(availability.Date, current.EndTime, s.loc)
			if err != nil {
				return err
			}

			delta := time.Duration(minutes) * time.Minute
			newEnd := end.Add(delta)
			if action == AlterReduce {
				newEnd = end.Add(-delta)
			}
			if !newEnd.After(start) {
				return fmt.Errorf("%w: altered end would not be after start %s", ErrValidation, current.StartTime)
			}

			if action == AlterExtend {
				if err := lockAvailability(tx, availability.ID); err != nil {
					return err
				}
				siblings, err := s.bookedIntervals(tx, availability.ID, availability.Date, current.ID)
				if err != nil {
					return err
				}
				if slot.ConflictsAny(slot.Interval{Start: start, End: newEnd}, siblings) {
					return fmt.Errorf("slot %s on machine %d: %w", slotID, availability.MachineID, ErrExtensionConflict)
				}
			}

			fields := map[string]any{"end_time": slot.FormatClock(newEnd, s.loc)}
			if err := casUpdate(tx, current.ID, current.Version, fields); err != nil {
				return err
			}
			return tx.First(&updated, "id = ?", slotID).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// FinalizeSlot is the monitor's one-shot terminal write: done, released, end
// time resolved. No retry: a version mismatch means a manual action already
// closed the slot, and the caller treats that as success.
func (s *gormStore) FinalizeSlot(ctx context.Context, slotID, endTime string, expectedVersion int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.BookedSlot
		if err := tx.First(&current, "id = ?", slotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("slot %s: %w", slotID, ErrSlotNotFound)
			}
			return err
		}

		err := casUpdate(tx, slotID, expectedVersion, map[string]any{
			"status":    string(slot.StatusDone),
			"is_booked": false,
			"end_time":  endTime,
		})
		if err != nil {
			return err
		}

		var availability model.MachineAvailability
		if err := tx.First(&availability, current.AvailabilityID).Error; err != nil {
			return err
		}
		return syncMachineStatus(tx, availability.MachineID, slot.StatusDone)
	})
}

// ReleaseStaleReservations frees slots that were reserved but never confirmed
// within the TTL, making their intervals bookable again.
func (s *gormStore) ReleaseStaleReservations(ctx context.Context, now time.Time, ttl time.Duration) (int64, error) {
	cutoff := now.Add(-ttl)
	res := s.db.WithContext(ctx).Model(&model.BookedSlot{}).
		Where("status = ? AND is_booked = ? AND reserved_at < ?", string(slot.StatusBooked), true, cutoff).
		Updates(map[string]any{
			"is_booked": false,
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release stale reservations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetAvailability returns the availability record with its slots ordered by
// start time.
func (s *gormStore) GetAvailability(ctx context.Context, machineID int64, date string) (*model.MachineAvailability, error) {
	var availability model.MachineAvailability
	err := s.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB { return db.Order("start_time") }).
		Where("machine_id = ? AND date = ?", machineID, date).
		First(&availability).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("machine %d on %s: %w", machineID, date, ErrAvailabilityNotFound)
		}
		return nil, err
	}
	return &availability, nil
}

// GetSlot returns one slot scoped to its machine and date.
func (s *gormStore) GetSlot(ctx context.Context, machineID int64, date, slotID string) (*model.BookedSlot, error) {
	var found model.BookedSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findSlot(tx, machineID, date, slotID)
		if err != nil {
			return err
		}
		found = *current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

// ListInUseSlots returns every occupied slot across all machines and days,
// for the monitor's reconciliation sweep.
func (s *gormStore) ListInUseSlots(ctx context.Context) ([]InUseSlot, error) {
	var out []InUseSlot
	err := s.db.WithContext(ctx).Model(&model.BookedSlot{}).
		Select("machine_availabilities.machine_id AS machine_id, machine_availabilities.date AS date, booked_slots.id AS slot_id").
		Joins("JOIN machine_availabilities ON machine_availabilities.id = booked_slots.availability_id").
		Where("booked_slots.status = ?", string(slot.StatusInUse)).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list in-use slots: %w", err)
	}
	return out, nil
}

// ResolveRates looks up the hourly rate for each (machine, occupant count)
// pair via the machine's type.
func (s *gormStore) ResolveRates(ctx context.Context, queries []RateQuery) ([]float64, error) {
	rates := make([]float64, 0, len(queries))
	for _, q := range queries {
		var machine model.Machine
		if err := s.db.WithContext(ctx).First(&machine, q.MachineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("machine %d: %w", q.MachineID, ErrMachineNotFound)
			}
			return nil, err
		}

		var card model.RateCard
		err := s.db.WithContext(ctx).
			Where("machine_type = ? AND occupants = ?", machine.Type, q.Occupants).
			First(&card).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("type %q with %d occupants: %w", machine.Type, q.Occupants, ErrRateNotFound)
			}
			return nil, err
		}
		rates = append(rates, card.HourlyRate)
	}
	return rates, nil
}

// lockAvailability serializes admission per machine-day. Writing the
// availability row takes its row lock, so a concurrent admission for the same
// day queues behind this transaction and reads the sibling set only after it
// commits. A plain read is not enough: under read committed, two overlap
// checks could each miss the other's uncommitted insert.
func lockAvailability(tx *gorm.DB, availabilityID int64) error {
	err := tx.Model(&model.MachineAvailability{}).
		Where("id = ?", availabilityID).
		Update("updated_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to lock availability %d: %w", availabilityID, err)
	}
	return nil
}

// findSlot locates a slot through its (machine, date) availability record.
func findSlot(tx *gorm.DB, machineID int64, date, slotID string) (*model.BookedSlot, error) {
	var availability model.MachineAvailability
	if err := tx.Where("machine_id = ? AND date = ?", machineID, date).First(&availability).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("machine %d on %s: %w", machineID, date, ErrAvailabilityNotFound)
		}
		return nil, err
	}

	var found model.BookedSlot
	if err := tx.Where("availability_id = ? AND id = ?", availability.ID, slotID).First(&found).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("slot %s on machine %d: %w", slotID, machineID, ErrSlotNotFound)
		}
		return nil, err
	}
	return &found, nil
}

// bookedIntervals resolves every active sibling's [start, end) to absolute
// instants. excludeID skips the slot being altered.
func (s *gormStore) bookedIntervals(tx *gorm.DB, availabilityID int64, date, excludeID string) ([]slot.Interval, error) {
	query := tx.Where("availability_id = ? AND is_booked = ?", availabilityID, true)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var siblings []model.BookedSlot
	if err := query.Find(&siblings).Error; err != nil {
		return nil, fmt.Errorf("failed to load sibling slots: %w", err)
	}

	intervals := make([]slot.Interval, 0, len(siblings))
	for _, sibling := range siblings {
		start, err := slot.ResolveClock(date, sibling.StartTime, s.loc)
		if err != nil {
			log.Printf("Warning: slot %s has malformed start time %q, skipping in overlap check: %v", sibling.ID, sibling.StartTime, err)
			continue
		}
		end, err := slot.ResolveClock(date, sibling.EndTime, s.loc)
		if err != nil {
			log.Printf("Warning: slot %s has malformed end time %q, skipping in overlap check: %v", sibling.ID, sibling.EndTime, err)
			continue
		}
		intervals = append(intervals, slot.Interval{Start: start, End: end})
	}
	return intervals, nil
}
