package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"station-booking-backend/internal/model"
	"station-booking-backend/internal/slot"
)

// GetMachines handles the GET /api/machines request.
func (h *Handler) GetMachines(c *gin.Context) {
	var machines []model.Machine
	if err := h.store.DB().Order("id").Find(&machines).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve machines"})
		return
	}
	c.JSON(http.StatusOK, machines)
}

// availabilityResponse is the API shape of one machine-day.
type availabilityResponse struct {
	MachineID int64              `json:"machine_id"`
	Date      string             `json:"date"`
	Slots     []model.BookedSlot `json:"slots"`
}

// GetAvailability handles GET /api/machines/{machine_id}/availability.
// An unknown (machine, date) pair is an empty day, not an error: availability
// records are created lazily on first booking.
func (h *Handler) GetAvailability(c *gin.Context) {
	machineID, err := strconv.ParseInt(c.Param("machine_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid machine ID"})
		return
	}

	date := c.Query("date")
	if !slot.ValidDate(date) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	availability, err := h.store.GetAvailability(c.Request.Context(), machineID, date)
	if err != nil {
		if statusForError(err) == http.StatusNotFound {
			c.JSON(http.StatusOK, availabilityResponse{MachineID: machineID, Date: date, Slots: []model.BookedSlot{}})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve availability"})
		return
	}

	c.JSON(http.StatusOK, availabilityResponse{
		MachineID: availability.MachineID,
		Date:      availability.Date,
		Slots:     availability.Slots,
	})
}
