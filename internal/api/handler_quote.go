package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"station-booking-backend/internal/slot"
	"station-booking-backend/internal/store"
)

type quoteRequest struct {
	Date      string            `json:"date" binding:"required"`
	StartTime string            `json:"start_time" binding:"required"`
	EndTime   string            `json:"end_time" binding:"required"`
	Machines  []store.RateQuery `json:"machines" binding:"required,min=1"`
}

// Quote handles POST /api/quote: price a time range across the machines of a
// booking, each at the rate tier selected by its occupant count.
func (h *Handler) Quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := slot.ResolveClock(req.Date, req.StartTime, h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := slot.ResolveClock(req.Date, req.EndTime, h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rates, err := h.store.ResolveRates(c.Request.Context(), req.Machines)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	total, err := slot.PriceBooking(start, end, rates)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"total_price": total, "minutes": int(end.Sub(start).Minutes())})
}
