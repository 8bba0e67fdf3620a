package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/auth"
	"github.com/vovakirdan/whatsease-server/internal/config"
	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/store"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Coordinator *core.Coordinator
	Auth        *auth.Service
	Store       store.Store
}

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the chat socket on a plain mux in front of the gin engine.
// The socket must see the raw ResponseWriter to hijack the connection.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws/chat", NewWSHandler(deps.Coordinator, WSOptions{
		SendBuffer:      cfg.WSSendBuffer,
		PingInterval:    cfg.WSPingInterval,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		RateLimit:       cfg.WSRateLimit,
		OriginPatterns:  cfg.CORSOrigins,
	}, logger))
	mux.Handle("/", NewRouter(deps, cfg, logger))
	return mux
}

// NewRouter registers every REST route on a gin engine.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.CORSOrigins))

	router.GET("/", rootHandler)
	router.GET("/health", healthHandler)

	router.GET("/ws/status", statusHandler(deps.Coordinator.Registry()))

	authMW := AuthMiddleware(deps.Auth, logger)
	apiHandlers := NewAPIHandlers(deps.Auth, deps.Store, deps.Coordinator.Registry(), logger)
	userHandlers := NewUserHandlers(deps.Store, deps.Coordinator.Registry(), logger)
	messageHandlers := NewMessageHandlers(deps.Coordinator, deps.Store, logger)

	api := router.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", apiHandlers.Register)
	authGroup.POST("/login", apiHandlers.Login)
	authGroup.POST("/logout", authMW, apiHandlers.Logout)
	authGroup.GET("/me", authMW, apiHandlers.Me)

	users := api.Group("/users", authMW)
	users.GET("", userHandlers.ListUsers)
	users.GET("/search", userHandlers.SearchUsers)
	users.PUT("/me", userHandlers.UpdateMe)
	users.GET("/:email", userHandlers.GetUser)

	messages := api.Group("/messages", authMW)
	messages.POST("", messageHandlers.Send)
	messages.POST("/bot", messageHandlers.ChatWithBot)
	messages.GET("/chats", messageHandlers.Chats)
	messages.GET("/conversation/:email", messageHandlers.Conversation)
	messages.PUT("/:id", messageHandlers.Edit)
	messages.PATCH("/:id/status", messageHandlers.UpdateStatus)
	messages.DELETE("/:id", messageHandlers.Delete)

	return router
}

func rootHandler(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"name": "WhatsEase", "status": "running"})
}

func healthHandler(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"status": "healthy"})
}

func statusHandler(reg *core.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, reg.Stats())
	}
}
