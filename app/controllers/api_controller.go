package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/metrics/counter"
)

// QueueStats is satisfied by *jobqueue.Queue.
type QueueStats interface {
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// CounterSnapshot is satisfied by *counter.Outcomes.
type CounterSnapshot interface {
	Snapshot(ctx context.Context) ([]counter.Count, error)
}

// ============================================================================
// API CONTROLLER
// ============================================================================

type APIController struct {
	svc      Integration
	queue    QueueStats
	counters CounterSnapshot
}

// NewAPIController builds the operator API. queue and counters may be nil.
func NewAPIController(svc Integration, queue QueueStats, counters CounterSnapshot) *APIController {
	return &APIController{svc: svc, queue: queue, counters: counters}
}

// HandleStatus returns the credential summary, queue depth and pipeline counters.
func (ac *APIController) HandleStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	status, err := ac.svc.Status(ctx)
	if err != nil {
		log.Errorf("[API] Status lookup failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load credential status")
	}

	resp := fiber.Map{"credential": status}

	if ac.queue != nil {
		pending, perr := ac.queue.GetQueueSize(ctx)
		processing, rerr := ac.queue.GetProcessingSize(ctx)
		if perr != nil || rerr != nil {
			log.Warnf("[API] Queue size lookup failed: %v %v", perr, rerr)
		} else {
			resp["queue"] = fiber.Map{"pending": pending, "processing": processing}
		}
	}

	if ac.counters != nil {
		counts, err := ac.counters.Snapshot(ctx)
		if err != nil {
			log.Warnf("[API] Counter snapshot failed: %v", err)
		} else {
			totals := make(map[string]int64, len(counts))
			for _, ct := range counts {
				totals[ct.Outcome] = ct.Total
			}
			resp["counters"] = totals
		}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleRefresh forces a credential refresh.
func (ac *APIController) HandleRefresh(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), oauthTimeout)
	defer cancel()

	cred, err := ac.svc.Refresh(ctx)
	if err != nil {
		log.Errorf("[API] Manual refresh failed: %v", err)
		if credentialUnavailable(err) {
			return jsonError(c, fiber.StatusServiceUnavailable, "refresh_failed", err.Error())
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Refresh failed")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":       true,
		"credential_id": cred.ID,
		"expires_at":    cred.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
