package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/shared/id"
)

const (
	consoleBuffer = 64
	writeWait     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Console streams the kernel console over a WebSocket. The current
// history is sent first, then live output. Text frames from the client
// are fed to the console as keyboard input.
func (h *Handlers) Console(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := id.NewConsoleID()
	log := h.log.With(zap.String("subscriber", sub.String()))
	log.Info("Console attached", zap.String("remote", c.ClientIP()))
	defer log.Info("Console detached")

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	console := h.kernel.Console()
	out, unsubscribe := console.Subscribe(consoleBuffer)
	defer unsubscribe()

	if hist := console.History(); len(hist) > 0 {
		if err := h.write(conn, hist); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
				console.Feed(msg)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case b, ok := <-out:
			if !ok {
				return
			}
			if err := h.write(conn, b); err != nil {
				log.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handlers) write(conn *websocket.Conn, b []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
