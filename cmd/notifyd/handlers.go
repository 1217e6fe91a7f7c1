package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/look4dennis/stride-notify/internal/hub"
	"github.com/look4dennis/stride-notify/internal/notification"
)

type server struct {
	hub    *hub.Hub
	logger *slog.Logger
}

func newServer(h *hub.Hub, logger *slog.Logger) *server {
	return &server{hub: h, logger: logger}
}

func (s *server) routes(e *gin.Engine) {
	e.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	v1 := e.Group("/v1")
	{
		v1.POST("/notifications", s.handleSend)
		v1.POST("/notifications/confirmed", s.handleSendConfirmed)
		v1.POST("/notifications/:id/confirm", s.handleConfirmDelivery)
		v1.POST("/notifications/:id/read", s.handleConfirmRead)
		v1.GET("/notifications/:id/status", s.handleStatus)
		v1.GET("/notifications/failed", s.handleFailed)

		v1.GET("/users/:id/history", s.handleUserHistory)
		v1.GET("/users/:id/queued", s.handleUserQueued)
		v1.DELETE("/users/:id/queued", s.handleClearQueued)

		v1.GET("/connections", s.handleConnections)
		v1.POST("/connections", s.handleConnect)
		v1.DELETE("/connections/:id", s.handleDisconnect)
		v1.POST("/connections/:id/heartbeat", s.handleHeartbeat)
		v1.GET("/connections/health", s.handleConnectionHealth)

		v1.GET("/presence", s.handlePresence)
	}
}

// targetRequest is the wire form of a dispatch target. Kind selects which of
// the remaining fields is read.
type targetRequest struct {
	Kind           string   `json:"kind" binding:"required"`
	UserID         int      `json:"userId"`
	UserIDs        []int    `json:"userIds"`
	Group          string   `json:"group"`
	Groups         []string `json:"groups"`
	BranchID       int      `json:"branchId"`
	OrganizationID int      `json:"organizationId"`
	Role           string   `json:"role"`
}

type sendRequest struct {
	Target  targetRequest        `json:"target" binding:"required"`
	Payload notification.Payload `json:"payload"`
}

// handleSend accepts an untracked dispatch. Per-recipient failures never
// surface here; the endpoint acknowledges acceptance, not delivery.
func (s *server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	d := s.hub.Dispatcher()
	ctx := c.Request.Context()
	p := &req.Payload

	switch req.Target.Kind {
	case "user":
		if len(req.Target.UserIDs) > 0 {
			d.SendToUsers(ctx, req.Target.UserIDs, p)
		} else {
			d.SendToUser(ctx, req.Target.UserID, p)
		}
	case "group":
		if len(req.Target.Groups) > 0 {
			d.SendToGroups(ctx, req.Target.Groups, p)
		} else {
			d.SendToGroup(ctx, req.Target.Group, p)
		}
	case "branch":
		d.SendToBranch(ctx, req.Target.BranchID, p)
	case "organization":
		d.SendToOrganization(ctx, req.Target.OrganizationID, p)
	case "role":
		d.SendToRole(ctx, req.Target.Role, p)
	case "all":
		d.SendToAll(ctx, p)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown target kind"})
		return
	}
	c.Status(http.StatusAccepted)
}

// handleSendConfirmed performs a tracked send to one user or a bulk of
// users and returns the per-recipient delivery results.
func (s *server) handleSendConfirmed(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Target.Kind != "user" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmed sends address users"})
		return
	}

	type resultJSON struct {
		NotificationID string `json:"notificationId"`
		UserID         int    `json:"userId"`
		IsDelivered    bool   `json:"isDelivered"`
		IsQueued       bool   `json:"isQueued"`
		Error          string `json:"error,omitempty"`
	}

	ids := req.Target.UserIDs
	if len(ids) == 0 {
		ids = []int{req.Target.UserID}
	}

	results := s.hub.Dispatcher().SendBulkWithConfirmation(c.Request.Context(), ids, &req.Payload)
	out := make([]resultJSON, 0, len(results))
	for _, r := range results {
		rj := resultJSON{
			NotificationID: r.NotificationID,
			UserID:         r.UserID,
			IsDelivered:    r.Delivered,
			IsQueued:       r.Queued,
		}
		if r.Err != nil {
			rj.Error = r.Err.Error()
		}
		out = append(out, rj)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *server) handleConfirmDelivery(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	s.hub.ConfirmDelivery(c.Param("id"), userID)
	c.Status(http.StatusNoContent)
}

func (s *server) handleConfirmRead(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	s.hub.ConfirmRead(c.Param("id"), userID)
	c.Status(http.StatusNoContent)
}

func (s *server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.DeliveryStatus(c.Param("id")))
}

func (s *server) handleFailed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	failed := s.hub.FailedNotifications(limit)
	c.JSON(http.StatusOK, gin.H{"failed": failed, "count": len(failed)})
}

func (s *server) handleUserHistory(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	c.JSON(http.StatusOK, gin.H{"history": s.hub.UserDeliveryHistory(userID, limit)})
}

func (s *server) handleUserQueued(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}
	queued := s.hub.QueuedNotifications(userID)
	c.JSON(http.StatusOK, gin.H{"queued": queued, "count": len(queued)})
}

func (s *server) handleClearQueued(c *gin.Context) {
	userID, ok := paramUserID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": s.hub.ClearQueuedNotifications(userID)})
}

func (s *server) handleConnections(c *gin.Context) {
	if v := c.Query("userId"); v != "" {
		userID, err := strconv.Atoi(v)
		if err != nil || userID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connections": s.hub.UserConnections(userID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": s.hub.ActiveConnections()})
}

// handleConnect is the transport's connect callback: the push edge announces
// a new client session here.
func (s *server) handleConnect(c *gin.Context) {
	var conn notification.Connection
	if err := c.ShouldBindJSON(&conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now()
	}
	if conn.RemoteAddr == "" {
		conn.RemoteAddr = c.ClientIP()
	}
	if err := s.hub.Connect(c.Request.Context(), conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleDisconnect(c *gin.Context) {
	s.hub.Disconnect(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *server) handleHeartbeat(c *gin.Context) {
	s.hub.RecordHeartbeatResponse(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *server) handleConnectionHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": s.hub.Monitor().AllHealth()})
}

func (s *server) handlePresence(c *gin.Context) {
	ids := s.hub.OnlineUserIDs()
	c.JSON(http.StatusOK, notification.PresenceEvent{
		OnlineCount:   len(ids),
		OnlineUserIDs: ids,
		Timestamp:     time.Now(),
	})
}

func paramUserID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func queryUserID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Query("userId"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter required"})
		return 0, false
	}
	return id, true
}
