package model

import "time"

// MachineAvailability owns the booked slots of one machine on one calendar
// day. Created lazily on the first booking for that (machine, date) pair.
type MachineAvailability struct {
	ID        int64  `gorm:"autoIncrement;primaryKey" json:"id"`
	MachineID int64  `gorm:"not null;uniqueIndex:idx_machine_date" json:"machine_id"`
	Date      string `gorm:"size:10;not null;uniqueIndex:idx_machine_date" json:"date"` // YYYY-MM-DD
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	// Associations
	Machine Machine      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Slots   []BookedSlot `gorm:"foreignKey:AvailabilityID" json:"slots"`
}

// BookedSlot is the reservable unit: one time interval on one machine on one
// day. StartTime/EndTime are clock times (HH:mm) interpreted against the
// owning record's date. Version is the optimistic-concurrency token; it moves
// by exactly one on every successful mutation.
type BookedSlot struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	AvailabilityID int64     `gorm:"not null;index" json:"-"`
	StartTime      string    `gorm:"size:5;not null" json:"start_time"`
	EndTime        string    `gorm:"size:5;not null" json:"end_time"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	IsBooked       bool      `gorm:"not null" json:"is_booked"`
	ReservedAt     time.Time `gorm:"not null" json:"reserved_at"`
	Version        int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}
