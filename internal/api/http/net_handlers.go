package http

import (
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxInject bounds the hex body of an injected frame.
const maxInject = 2 * 4096

// GetNet reports the driver rings and device counters
func (h *Handlers) GetNet(c *gin.Context) {
	if h.net == nil {
		fail(c, http.StatusServiceUnavailable, "no network device attached")
		return
	}
	resp := gin.H{"success": true}
	if h.net.Driver != nil {
		resp["driver"] = h.net.Driver.Stats()
	}
	if h.net.Device != nil {
		resp["device"] = h.net.Device.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// InjectFrame delivers a frame to the NIC as if it arrived on the wire.
// The body is the frame in hex; whitespace is ignored.
func (h *Handlers) InjectFrame(c *gin.Context) {
	if h.net == nil || h.net.Device == nil {
		fail(c, http.StatusServiceUnavailable, "no network device attached")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInject+1))
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if len(body) > maxInject {
		fail(c, http.StatusRequestEntityTooLarge, "frame too large")
		return
	}
	text := strings.Join(strings.Fields(string(body)), "")
	frame, err := hex.DecodeString(text)
	if err != nil || len(frame) == 0 {
		fail(c, http.StatusBadRequest, "body must be a non-empty hex encoded frame")
		return
	}
	h.net.Device.Deliver(frame)
	h.log.Debug("frame injected", zap.Int("len", len(frame)))
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"len":     len(frame),
	})
}
