package routes

import (
	"fmt"
	"net/http"
	"time"

	"resqlink/config"
	"resqlink/controllers"
	"resqlink/database"
	"resqlink/middleware"
	"resqlink/models"
	"resqlink/websocket"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// Router bundles the handlers and middleware the HTTP surface needs.
type Router struct {
	Emergency *controllers.EmergencyController
	Location  *controllers.LocationController
	User      *controllers.UserController
	WebSocket *controllers.WebSocketController
	Hub       *websocket.Hub
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimiter
	Config    *config.Config
}

// Setup wires the full route table onto a gin engine.
func (r *Router) Setup() *gin.Engine {
	if r.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	engine.GET("/health", r.healthHandler)

	// WebSocket upgrade authenticates via query token, not the auth
	// middleware.
	engine.GET("/ws", r.WebSocket.HandleConnection)

	v1 := engine.Group("/api/v1")
	v1.Use(r.Auth.RequireAuth())
	if r.RateLimit != nil {
		v1.Use(r.RateLimit.Middleware())
	}

	emergencies := v1.Group("/emergencies")
	{
		emergencies.POST("", r.Emergency.CreateEmergency)
		emergencies.GET("/active", r.Emergency.GetActiveEmergency)
		emergencies.GET("/responses", r.Emergency.GetMyResponses)
		emergencies.GET("/:id", r.Emergency.GetEmergency)

		emergencies.POST("/:id/accept", r.Emergency.AcceptEmergency)
		emergencies.POST("/:id/arrive", r.Emergency.MarkArrived)
		emergencies.POST("/:id/verify", r.Emergency.VerifyEmergency)
		emergencies.POST("/:id/escalate", r.Emergency.EscalateEmergency)
		emergencies.PUT("/:id/response", r.Emergency.UpdateVolunteerStatus)
		emergencies.POST("/:id/resolve", r.Emergency.AttendeeResolve)
		emergencies.POST("/:id/complete", r.Emergency.VolunteerResolve)
		emergencies.POST("/:id/cancel", r.Emergency.CancelEmergency)

		emergencies.PUT("/:id/location", r.Location.UpdateVolunteerLocation)
	}

	groups := v1.Group("/groups")
	{
		groups.GET("/:groupId/emergencies", r.Emergency.GetGroupEmergencies)
	}

	location := v1.Group("/location")
	{
		location.PUT("", r.Location.UpdateMyLocation)
	}

	v1.PUT("/device", r.User.UpdateDeviceToken)

	return engine
}

func (r *Router) healthHandler(c *gin.Context) {
	dbHealth := database.HealthCheck()
	dbStatus, _ := dbHealth["status"].(string)

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "healthy" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	services := map[string]string{"database": dbStatus}
	if r.Hub != nil {
		services["websocket"] = fmt.Sprintf("%d connected", len(r.Hub.ConnectedUsers()))
	}

	c.JSON(code, models.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	})
}
