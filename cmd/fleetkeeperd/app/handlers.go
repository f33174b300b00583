package app

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetkeeper/fleetkeeper/internal/service"
	"github.com/fleetkeeper/fleetkeeper/pkg/config"
)

type handlers struct {
	svc service.Service
	cfg *config.Config
}

type tokenRequest struct {
	Name   string `json:"name" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

func (h *handlers) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	token, err := h.svc.Auth().IssueJWT(c.Request.Context(), req.Name, req.Secret, h.cfg.JWT.Secret, h.cfg.JWT.Expiration)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "token rejected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(h.cfg.JWT.Expiration.Seconds())})
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.svc.Status().Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) peers(c *gin.Context) {
	peers, err := h.svc.Status().Peers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

func (h *handlers) peer(c *gin.Context) {
	p, err := h.svc.Status().Peer(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "peer not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// streamStatus emits the topology status as server-sent events every
// five seconds until the client disconnects.
func (h *handlers) streamStatus(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	emit := func() bool {
		st, err := h.svc.Status().Status(c.Request.Context())
		if err != nil {
			return false
		}
		c.SSEvent("status", st)
		return true
	}

	if !emit() {
		return
	}
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-ticker.C:
			return emit()
		}
	})
}
