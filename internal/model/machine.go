package model

import "time"

// MachineStatus is the operational state of a physical station.
type MachineStatus string

const (
	MachineAvailable        MachineStatus = "available"
	MachineInUse            MachineStatus = "in-use"
	MachineUnderMaintenance MachineStatus = "under-maintenance"
	MachineOffline          MachineStatus = "offline"
)

// Machine represents a physical gaming station.
type Machine struct {
	ID        int64         `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"size:128;not null" json:"name"`
	Type      string        `gorm:"size:64;not null;index" json:"type"`
	Status    MachineStatus `gorm:"size:32;not null;default:available" json:"status"`
	CreatedAt time.Time     `json:"-"`
	UpdatedAt time.Time     `json:"-"`
}
