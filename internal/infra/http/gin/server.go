package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peerchat/internal/infra/config"
	"peerchat/internal/infra/obs"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	Thread(c *gin.Context)
	Send(c *gin.Context)
	MarkRead(c *gin.Context)
}

type ReviewsHTTP interface {
	Eligibility(c *gin.Context)
}

type LiveHTTP interface {
	Stream(c *gin.Context)
}

type BlobsHTTP interface {
	Serve(c *gin.Context)
}

type Handlers struct {
	Chat    ChatHTTP
	Reviews ReviewsHTTP
	Live    LiveHTTP
	Blobs   BlobsHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine. Routes under /api/v1 require a principal.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", principalHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.Blobs != nil {
		router.GET("/blobs/:partition/*key", h.Blobs.Serve)
	}

	api := router.Group("/api/v1")
	api.Use(PrincipalMiddleware{Logger: obsMW.Logger}.Handle)
	if h.Chat != nil {
		conv := api.Group("/conversations")
		conv.GET("", h.Chat.ListConversations)
		conv.GET("/:peer/messages", h.Chat.Thread)
		conv.POST("/:peer/messages", h.Chat.Send)
		conv.POST("/:peer/read", h.Chat.MarkRead)
	}
	if h.Live != nil {
		api.GET("/conversations/:peer/live", h.Live.Stream)
	}
	if h.Reviews != nil {
		api.GET("/reviews/eligibility/:peer", h.Reviews.Eligibility)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
