package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"station-booking-backend/config"
	"station-booking-backend/internal/mw"
	"station-booking-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, webpushOptions *webpush.Options, cfg *config.ServerConfig, loc *time.Location) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, loc)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// GET /api/machines
		api.GET("/machines", caching, handler.GetMachines)

		// GET /api/machines/{machine_id}/availability?date=YYYY-MM-DD
		api.GET("/machines/:machine_id/availability", caching, handler.GetAvailability)

		// Slot lifecycle
		api.POST("/machines/:machine_id/slots", handler.CreateSlot)
		api.PATCH("/machines/:machine_id/slots/:slot_id/status", handler.UpdateSlotStatus)
		api.PATCH("/slots/:slot_id", handler.AlterBookingSlot)

		// Pricing
		api.POST("/quote", handler.Quote)

		// Push subscriptions
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
