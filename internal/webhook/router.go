// Package webhook wires the gin HTTP surface of spec.md §6: the carrier
// event webhook (answer/hangup/playback.ended), the PSTN media
// WebSocket upgrade, and the WebRTC HD `/offer` signalling endpoint.
// Grounded in the teacher's router package (gin route groups, path/query
// carried identifiers) adapted from its gRPC-first layout to a plain
// REST/WebSocket surface.
package webhook

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/wavebridge/voicebridge/internal/config"
	"github.com/wavebridge/voicebridge/internal/logging"
)

// Deps bundles everything the HTTP handlers need, assembled by
// cmd/server/main.go.
type Deps struct {
	Config *config.Config
	Log    logging.Logger
	Calls  CallOrchestrator
}

// NewRouter builds the gin engine with CORS, JWT auth on the WebRTC
// surface, and all routes registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Log))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.Config.AllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	{
		v1.POST("/carrier/webhook/:tenantId", carrierWebhookHandler(deps))
		v1.GET("/carrier/media/:tenantId", pstnMediaHandler(deps))

		webrtc := v1.Group("/webrtc")
		webrtc.Use(bearerAuth(deps.Config.JWTSecret))
		webrtc.POST("/offer", webrtcOfferHandler(deps))
	}

	return r
}

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debugw("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}
