package httpapi

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/config"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// registerValidators teaches gin's binding layer the room code format, so
// malformed join payloads are refused before they reach a session.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("roomcode", func(fl validator.FieldLevel) bool {
		return domain.RoomCode(fl.Field().String()).Validate() == nil
	})
}

// ClientTokenMiddleware tags every client with a stable token cookie.
// Log lines from one UI correlate on it, and the join throttle keys on it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *CallController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidators()

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HolostreamSession", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.httpapi").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/call/state", ctl.handleState)
	api.GET("/call/recent", ctl.handleRecent)
	api.POST("/call/host", ctl.handleHost)
	api.POST("/call/join", ctl.handleJoin)
	api.POST("/call/hangup", ctl.handleHangup)
	api.POST("/call/camera", ctl.handleCamera)
	api.POST("/call/audio", ctl.handleAudio)
	api.POST("/call/switch-camera", ctl.handleSwitchCamera)

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().
			Str("module", "adapters.httpapi").
			Str("client", c.GetString("client_token")).
			Msg("event feed attached")
		ctl.HandleEvents(ctx, c)
	})

	return r
}
