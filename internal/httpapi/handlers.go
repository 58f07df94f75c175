package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"worksrelay/internal/notifier"
	"worksrelay/internal/reminder"
	"worksrelay/internal/storage"
	logx "worksrelay/pkg/logx"
)

type handlers struct {
	deps Deps
	log  logx.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) notify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	// only a missing message is rejected; "" is relayed as is
	if req.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required"})
		return
	}

	res, err := h.deps.Relay.Send(c.Request.Context(), storage.SourceAPI, req.user(), *req.Message)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "response": res.Response})
}

func (h *handlers) taskCreated(c *gin.Context) {
	var req taskCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "title is required"})
		return
	}
	if h.deps.Notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": notifier.ErrDisabled.Error()})
		return
	}

	text := "New task created: " + title
	if d := strings.TrimSpace(req.Description); d != "" {
		text += "\n" + d
	}
	user := req.UserID
	if user == "" {
		user = req.UserIDAlt
	}

	err := h.deps.Notifier.Notify(c.Request.Context(), notifier.Notification{
		Source: storage.SourceTaskCreated,
		UserID: user,
		Text:   text,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	case errors.Is(err, notifier.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": err.Error()})
	case errors.Is(err, notifier.ErrDisabled), errors.Is(err, notifier.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	}
}

func (h *handlers) status(c *gin.Context) {
	if h.deps.Status == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Status())
}

// deliveries lists audit records, newest first.
// Query: source, target, limit.
func (h *handlers) deliveries(c *gin.Context) {
	if h.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "storage disabled"})
		return
	}
	q := storage.AuditQuery{
		Source:   strings.TrimSpace(c.Query("source")),
		TargetID: strings.TrimSpace(c.Query("target")),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a non-negative integer"})
			return
		}
		q.Limit = n
	}
	entries, err := h.deps.Audit.RecentAudit(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": entries})
}

func (h *handlers) runReminder(c *gin.Context) {
	if h.deps.Reminders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "reminders not configured"})
		return
	}
	name := c.Param("name")
	err := h.deps.Reminders.RunNow(c.Request.Context(), name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "success", "reminder": name})
	case errors.Is(err, reminder.ErrUnknown):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}
