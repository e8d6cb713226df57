package sink

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentworkforce/offlinesync/internal/records"
)

type Handler struct {
	repo Repository
	now  func() time.Time
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo, now: time.Now}
}

// NewRouter mounts the sink routes on a fresh gin engine.
func NewRouter(repo Repository) *gin.Engine {
	h := NewHandler(repo)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ping", Ping)
	router.HEAD("/ping", Ping)
	router.HEAD("/activities", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.POST("/activities", h.Accept)
	router.GET("/activities", h.List)
	return router
}

func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Accept handles POST /activities. A replayed idempotency key answers 200
// without storing anything.
func (h *Handler) Accept(c *gin.Context) {
	var env records.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if env.Type != records.EnvelopeType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported envelope type " + env.Type})
		return
	}
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		if env.Data.Persisted() {
			key = records.IdempotencyKey(env.Data)
		} else {
			key = uuid.NewString()
		}
	}
	activity := Activity{IdempotencyKey: key, ReceivedAt: h.now().UTC(), Envelope: env}
	created, err := h.repo.Save(c.Request.Context(), activity)
	if err != nil {
		log.Printf("Error storing activity %s: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store activity"})
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"idempotencyKey": key,
		"duplicate":      !created,
		"correlationId":  c.GetHeader("X-Correlation-Id"),
	})
}

func (h *Handler) List(c *gin.Context) {
	activities, err := h.repo.List(c.Request.Context())
	if err != nil {
		log.Printf("Error listing activities: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve activities"})
		return
	}
	c.JSON(http.StatusOK, activities)
}
