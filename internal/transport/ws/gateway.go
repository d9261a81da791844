// Package ws is a websocket front end standing in for a messaging
// platform. The platform user id comes from the user_id query parameter.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc/status"

	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
)

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, id session.UserID, ev transport.Event) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Gateway struct {
	manager *Manager
	handler Handler
}

func NewGateway(m *Manager, h Handler) *Gateway {
	return &Gateway{manager: m, handler: h}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeWS(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "user_id must be a positive integer"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := NewClient(conn, id)
	replaced, ok := g.manager.Register(client)
	if !ok {
		client.Close()
		return
	}
	if replaced != nil {
		replaced.Close()
	}

	log := logger.With(logger.UserAttr(id), "conn", client.ID())
	log.Info("websocket connected", "online", g.manager.Count())

	// events outlive the upgrade request
	ctx := context.Background()
	client.Run(ctx, func(raw []byte) {
		g.handleFrame(ctx, client, raw)
	}, func() {
		g.manager.Unregister(client)
		log.Info("websocket disconnected", "online", g.manager.Count())
	})
}

// handleFrame runs events of one connection in arrival order.
func (g *Gateway) handleFrame(ctx context.Context, client *Client, raw []byte) {
	ev, err := decodeEvent(raw)
	if err != nil {
		g.sendError(client, svcErr.InvalidArgument(err.Error()))
		return
	}
	err = g.handler.Handle(ctx, client.User(), ev)
	// other failures were already answered with a notice
	if errors.Is(err, svcErr.ErrNotReady) {
		g.sendError(client, err)
	}
}

func (g *Gateway) sendError(client *Client, err error) {
	st := status.Convert(svcErr.Map(err))
	payload, merr := encode(Outbound{
		Type:    FrameError,
		Code:    st.Code().String(),
		Message: st.Message(),
	})
	if merr != nil {
		return
	}
	if !client.Enqueue(payload) {
		client.Close()
	}
}
