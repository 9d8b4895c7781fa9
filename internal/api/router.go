// Package api exposes the experiment over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/chartrecall/internal/config"
	"github.com/kiliankoe/chartrecall/internal/experiment"
	"github.com/kiliankoe/chartrecall/internal/stimulus"
	"github.com/kiliankoe/chartrecall/internal/store"
)

const cookieName = "chartrecall"

// Notifier is told about every new view so it can push it to other
// listeners of the session.
type Notifier interface {
	Publish(sessionID string, v experiment.View)
}

type Deps struct {
	Config   config.Config
	Manager  *experiment.Manager
	Charts   *stimulus.ChartDataset
	Files    *store.FileStore
	Notifier Notifier
	// Static serves the participant page for unmatched routes.
	Static http.Handler
}

type handler struct {
	Deps
}

// NewRouter builds the gin engine with all routes except Socket.IO.
func NewRouter(d Deps) *gin.Engine {
	h := &handler{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(SecureHeaders())

	cs := cookie.NewStore([]byte(d.Config.SessionSecret))
	cs.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})
	r.Use(sessions.Sessions(cookieName, cs))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "sessions": d.Manager.Count()})
	})

	api := r.Group("/api")
	{
		api.POST("/session", h.startSession)
		api.GET("/session", h.currentSession)
		api.POST("/session/submit", h.submit)
		api.GET("/charts/:id", h.chart)
	}

	if d.Config.DevMode {
		dev := api.Group("/dev")
		dev.POST("/group", h.devGroup)
		dev.POST("/jump", h.devJump)
		dev.POST("/timing", h.devTiming)
	}

	if d.Config.AdminEnabled() && d.Files != nil {
		admin := r.Group("/admin",
			RateLimit(time.Minute, 30),
			gin.BasicAuth(gin.Accounts{d.Config.AdminUser: d.Config.AdminPass}),
		)
		admin.GET("/results", h.listResults)
		admin.GET("/results/:name", h.downloadResult)
	}

	if d.Config.ImagesDir != "" {
		r.Static("/images", d.Config.ImagesDir)
	}

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if d.Static == nil || strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/admin/") || strings.HasPrefix(path, "/images/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		d.Static.ServeHTTP(c.Writer, c.Request)
	})
	return r
}
