package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/chartrecall/internal/experiment"
)

const stateEvent = "experiment:state"

type ConnCtx struct {
	SessionID string
}

// Server pushes session views to the participant page over Socket.IO.
type Server struct {
	Manager *experiment.Manager

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // sessionID -> socketID -> Conn
}

func New(m *experiment.Manager) *Server {
	return &Server{Manager: m, members: make(map[string]map[string]socketio.Conn)}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Debug().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "experiment:attach", srv.attach)
	io.OnEvent("/", "experiment:tick", srv.tick)
	io.OnEvent("/", "experiment:submit", srv.submit)

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if id := sessionOf(s); id != "" {
			srv.removeMember(id, s)
		}
		log.Debug().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

type attachRequest struct {
	SessionID string `json:"sessionId"`
}

// attach binds the connection to a running session and sends it the
// current state.
func (srv *Server) attach(s socketio.Conn, req attachRequest) map[string]any {
	sess, err := srv.Manager.Get(req.SessionID)
	if err != nil {
		return srv.err(s, err)
	}
	if prev := sessionOf(s); prev != "" {
		srv.removeMember(prev, s)
	}
	s.SetContext(&ConnCtx{SessionID: sess.ID})
	srv.addMember(sess.ID, s)
	log.Info().Str("sid", s.ID()).Str("session", sess.ID).Msg("experiment:attach")
	s.Emit(stateEvent, srv.Manager.View(context.Background(), sess))
	return map[string]any{"ok": true}
}

func (srv *Server) tick(s socketio.Conn) map[string]any {
	id := sessionOf(s)
	v, err := srv.Manager.Tick(context.Background(), id)
	if err != nil {
		return srv.err(s, err)
	}
	srv.Publish(id, v)
	return map[string]any{"ok": true}
}

func (srv *Server) submit(s socketio.Conn, a experiment.Action) map[string]any {
	id := sessionOf(s)
	v, err := srv.Manager.Submit(context.Background(), id, a)
	if err != nil {
		return srv.err(s, err)
	}
	log.Info().Str("session", id).Str("kind", string(a.Kind)).Str("stage", string(v.Stage)).Msg("experiment:submit")
	srv.Publish(id, v)
	return map[string]any{"ok": true}
}

// Publish sends v to every connection attached to the session.
func (srv *Server) Publish(sessionID string, v experiment.View) {
	for _, c := range srv.connections(sessionID) {
		c.Emit(stateEvent, v)
	}
}

// Attached returns how many connections listen on a session.
func (srv *Server) Attached(sessionID string) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.members[sessionID])
}

func (srv *Server) connections(sessionID string) []socketio.Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]socketio.Conn, 0, len(srv.members[sessionID]))
	for _, c := range srv.members[sessionID] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) addMember(sessionID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[sessionID] == nil {
		srv.members[sessionID] = make(map[string]socketio.Conn)
	}
	srv.members[sessionID][c.ID()] = c
}

func (srv *Server) removeMember(sessionID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[sessionID]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, sessionID)
		}
	}
}

func sessionOf(s socketio.Conn) string {
	if ctx, ok := s.Context().(*ConnCtx); ok {
		return ctx.SessionID
	}
	return ""
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := experiment.ErrorCode(err)
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": code}
}
