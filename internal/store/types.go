package store

// AlterAction selects the direction of an end-time adjustment.
type AlterAction string

const (
	AlterExtend AlterAction = "extend"
	AlterReduce AlterAction = "reduce"
)

// InUseSlot identifies an occupied slot for the monitor's reconciliation
// sweep.
type InUseSlot struct {
	MachineID int64
	Date      string
	SlotID    string
}

// RateQuery asks for the hourly rate of one machine at one occupant count.
type RateQuery struct {
	MachineID int64 `json:"machine_id" binding:"required"`
	Occupants int   `json:"occupants" binding:"required"`
}

// LifecycleHooks receives the side effects of successful status transitions.
// The slot monitor registers itself here so timers track slot occupancy.
type LifecycleHooks interface {
	SlotOccupied(machineID int64, date, slotID string)
	SlotClosed(machineID int64, slotID string)
}
