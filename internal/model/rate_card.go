package model

// RateCard maps a machine type and occupant count to an hourly rate.
// One row per (type, occupants) tier.
type RateCard struct {
	ID          int64   `gorm:"autoIncrement;primaryKey"`
	MachineType string  `gorm:"size:64;not null;uniqueIndex:idx_rate_type_occupants"`
	Occupants   int     `gorm:"not null;uniqueIndex:idx_rate_type_occupants"`
	HourlyRate  float64 `gorm:"not null"`
}
