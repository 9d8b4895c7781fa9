package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/chartrecall/internal/experiment"
	"github.com/kiliankoe/chartrecall/internal/render"
	"github.com/kiliankoe/chartrecall/internal/store"
)

const (
	sessionKey    = "session_id"
	sessionHeader = "X-Session-ID"
)

func statusFor(err error) int {
	switch experiment.ErrorCode(err) {
	case "session_not_found":
		return http.StatusNotFound
	case "invalid_action", "invalid_answer", "invalid_index", "invalid_timing":
		return http.StatusBadRequest
	case "session_ended":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": experiment.ErrorCode(err)})
}

// sessionID reads the participant's session from the cookie, falling back
// to the X-Session-ID header for non-browser clients.
func sessionID(c *gin.Context) string {
	if id, ok := sessions.Default(c).Get(sessionKey).(string); ok && id != "" {
		return id
	}
	return c.GetHeader(sessionHeader)
}

func (h *handler) publish(id string, v experiment.View) {
	if h.Notifier != nil {
		h.Notifier.Publish(id, v)
	}
}

// startSession returns the running session of the participant or starts a
// new one. ?restart=1 always starts fresh; ?group= overrides the group.
func (h *handler) startSession(c *gin.Context) {
	ctx := c.Request.Context()
	if id := sessionID(c); id != "" && c.Query("restart") == "" {
		if s, err := h.Manager.Get(id); err == nil && !s.Completed() {
			c.JSON(http.StatusOK, h.Manager.View(ctx, s))
			return
		}
	}

	s, err := h.Manager.Start(ctx, c.Query("group"))
	if err != nil {
		h.fail(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionKey, s.ID)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to save session cookie")
	}
	c.Header(sessionHeader, s.ID)
	c.JSON(http.StatusCreated, h.Manager.View(ctx, s))
}

// currentSession is the polling endpoint: it evaluates the timed stage and
// returns the view.
func (h *handler) currentSession(c *gin.Context) {
	id := sessionID(c)
	v, err := h.Manager.Tick(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(id, v)
	c.JSON(http.StatusOK, v)
}

func (h *handler) submit(c *gin.Context) {
	var a experiment.Action
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	id := sessionID(c)
	v, err := h.Manager.Submit(c.Request.Context(), id, a)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(id, v)
	c.JSON(http.StatusOK, v)
}

func (h *handler) chart(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_chart_id"})
		return
	}
	points := h.Charts.Slice(id)
	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"empty":   len(points) == 0,
		"options": render.BarOptions("", points),
	})
}

func (h *handler) devSession(c *gin.Context) (*experiment.Session, bool) {
	s, err := h.Manager.Get(sessionID(c))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

func (h *handler) respond(c *gin.Context, s *experiment.Session) {
	v := h.Manager.View(c.Request.Context(), s)
	h.publish(s.ID, v)
	c.JSON(http.StatusOK, v)
}

func (h *handler) devGroup(c *gin.Context) {
	var req struct {
		Group string `json:"group"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	s, ok := h.devSession(c)
	if !ok {
		return
	}
	if err := s.Reassign(experiment.Group(req.Group)); err != nil {
		h.fail(c, err)
		return
	}
	log.Warn().Str("session", s.ID).Str("group", req.Group).Msg("dev: group reassigned")
	h.respond(c, s)
}

func (h *handler) devJump(c *gin.Context) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Index == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	s, ok := h.devSession(c)
	if !ok {
		return
	}
	if err := s.JumpTo(*req.Index); err != nil {
		h.fail(c, err)
		return
	}
	log.Warn().Str("session", s.ID).Int("index", *req.Index).Msg("dev: jumped")
	h.respond(c, s)
}

func (h *handler) devTiming(c *gin.Context) {
	var req struct {
		DisplaySeconds  int `json:"displaySeconds"`
		QuestionSeconds int `json:"questionSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	s, ok := h.devSession(c)
	if !ok {
		return
	}
	if err := s.SetTiming(req.DisplaySeconds, req.QuestionSeconds); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, s)
}

func (h *handler) listResults(c *gin.Context) {
	files, err := h.Files.List()
	if err != nil {
		log.Error().Err(err).Msg("list results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if files == nil {
		files = []store.FileInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *handler) downloadResult(c *gin.Context) {
	name := c.Param("name")
	rc, err := h.Files.Open(name)
	switch {
	case errors.Is(err, store.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name"})
		return
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	case err != nil:
		log.Error().Err(err).Str("file", name).Msg("open result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open_failed"})
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("download interrupted")
	}
}
