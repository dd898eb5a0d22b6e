package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"station-booking-backend/internal/slot"
	"station-booking-backend/internal/store"
)

type createSlotRequest struct {
	Date      string `json:"date" binding:"required"`
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

// CreateSlot handles POST /api/machines/{machine_id}/slots.
func (h *Handler) CreateSlot(c *gin.Context) {
	machineID, err := strconv.ParseInt(c.Param("machine_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid machine ID"})
		return
	}

	var req createSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.store.CreateSlot(c.Request.Context(), machineID, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

type updateSlotStatusRequest struct {
	Date   string `json:"date" binding:"required"`
	Status string `json:"status" binding:"required"`
}

// UpdateSlotStatus handles PATCH /api/machines/{machine_id}/slots/{slot_id}/status.
func (h *Handler) UpdateSlotStatus(c *gin.Context) {
	machineID, err := strconv.ParseInt(c.Param("machine_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid machine ID"})
		return
	}
	slotID := c.Param("slot_id")

	var req updateSlotStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.UpdateSlotStatus(c.Request.Context(), machineID, req.Date, slotID, slot.Status(req.Status))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error(), "machine_id": machineID, "slot_id": slotID})
		return
	}
	c.JSON(http.StatusOK, updated)
}

type alterSlotRequest struct {
	Minutes int    `json:"minutes" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

// AlterBookingSlot handles PATCH /api/slots/{slot_id}.
func (h *Handler) AlterBookingSlot(c *gin.Context) {
	slotID := c.Param("slot_id")

	var req alterSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.AlterBookingSlot(c.Request.Context(), slotID, req.Minutes, store.AlterAction(req.Action))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error(), "slot_id": slotID})
		return
	}
	c.JSON(http.StatusOK, updated)
}
