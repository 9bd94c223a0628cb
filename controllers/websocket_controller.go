package controllers

import (
	"context"
	"net/http"
	"time"

	"resqlink/middleware"
	"resqlink/repositories"
	ws "resqlink/websocket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking happens at the CORS layer; tokens gate the
		// upgrade itself.
		return true
	},
}

type WebSocketController struct {
	hub       *ws.Hub
	auth      *middleware.AuthMiddleware
	groupRepo *repositories.GroupRepository
	userRepo  *repositories.UserRepository
}

func NewWebSocketController(hub *ws.Hub, auth *middleware.AuthMiddleware, groupRepo *repositories.GroupRepository, userRepo *repositories.UserRepository) *WebSocketController {
	return &WebSocketController{
		hub:       hub,
		auth:      auth,
		groupRepo: groupRepo,
		userRepo:  userRepo,
	}
}

// HandleConnection upgrades the request and runs the client until it
// disconnects. The client subscribes to every group the user belongs to.
func (wc *WebSocketController) HandleConnection(c *gin.Context) {
	user, err := wc.auth.WebSocketAuth(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	userID := user.ID.Hex()

	groups, err := wc.groupRepo.GetUserGroups(c.Request.Context(), userID)
	if err != nil {
		logrus.Warnf("Failed to load groups for websocket user %s: %v", userID, err)
	}
	groupIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		groupIDs = append(groupIDs, group.ID.Hex())
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	if err := wc.userRepo.SetOnlineStatus(c.Request.Context(), userID, true); err != nil {
		logrus.Warnf("Failed to mark user %s online: %v", userID, err)
	}

	client := ws.NewClient(wc.hub, conn, userID, groupIDs)
	client.Start()

	// Start returns when the connection drops. The request context is dead
	// by then; presence teardown runs on its own deadline. Other devices
	// may still be connected.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !wc.hub.IsUserOnline(userID) {
		if err := wc.userRepo.SetOnlineStatus(ctx, userID, false); err != nil {
			logrus.Warnf("Failed to mark user %s offline: %v", userID, err)
		}
		if err := wc.userRepo.ClearLocationCache(ctx, userID); err != nil {
			logrus.Debugf("Failed to clear location cache for user %s: %v", userID, err)
		}
	}
}
