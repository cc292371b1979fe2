package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(c *gin.Context) {
	list, err := h.svc.Notifications.List(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// UnreadCount returns the badge count.
func (h *Handler) UnreadCount(c *gin.Context) {
	n, err := h.svc.Notifications.UnreadCount(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// MarkRead marks one notification read.
func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.svc.Notifications.MarkRead(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead marks every notification read.
func (h *Handler) MarkAllRead(c *gin.Context) {
	if err := h.svc.Notifications.MarkAllRead(c.Request.Context(), caller(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteNotification removes one notification.
func (h *Handler) DeleteNotification(c *gin.Context) {
	if err := h.svc.Notifications.Delete(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearNotifications removes all of the caller's notifications.
func (h *Handler) ClearNotifications(c *gin.Context) {
	if err := h.svc.Notifications.Clear(c.Request.Context(), caller(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stream upgrades to a websocket that receives the caller's notification
// events until the client disconnects.
func (h *Handler) Stream(c *gin.Context) {
	if h.svc.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push not available"})
		return
	}
	sess := caller(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.svc.Hub.Serve(sess.UserID, conn)
}

const (
	qrDefaultSize = 256
	qrMinSize     = 128
	qrMaxSize     = 1024
)

// writeQR renders text as a PNG QR code. ?size= picks the edge in pixels.
func (h *Handler) writeQR(c *gin.Context, text string) {
	size := qrDefaultSize
	if v, err := strconv.Atoi(c.Query("size")); err == nil {
		size = min(max(v, qrMinSize), qrMaxSize)
	}
	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
