// Package httpapi is the local control surface: a REST API driving the
// call lifecycle plus a WebSocket feed of call events, meant for a UI
// process on the same machine.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/app"
	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// ErrCallActive refuses a second concurrent call on this engine.
var ErrCallActive = errors.New("a call is already in progress")

// ErrTooManyAttempts throttles join attempts from one client.
var ErrTooManyAttempts = errors.New("too many join attempts, slow down")

// Call is the slice of the session the control surface drives.
// *app.Session implements it.
type Call interface {
	Host(ctx context.Context) (domain.RoomCode, error)
	Join(ctx context.Context, code domain.RoomCode) error
	Hangup(ctx context.Context) error
	ToggleCamera(ctx context.Context) (bool, error)
	ToggleAudio(ctx context.Context) (bool, error)
	SwitchCamera(ctx context.Context) error
	Snapshot() app.Snapshot
	Subscribe() (<-chan core.CallEvent, func())
	Done() <-chan struct{}
}

// SessionFactory builds a fresh session; sessions are single-use, so the
// controller consumes one per hosted or joined call.
type SessionFactory func() Call

// CallController serializes call commands onto at most one live session.
type CallController struct {
	build SessionFactory
	joins *attemptLimiter

	mu      sync.Mutex
	current Call
}

func NewCallController(build SessionFactory) *CallController {
	return &CallController{
		build: build,
		joins: newAttemptLimiter(joinAttemptLimit, joinAttemptWindow),
	}
}

// takeIdle claims the controller for a new call. A previous call blocks
// the claim until its teardown finished.
func (ctl *CallController) takeIdle() (Call, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.current != nil {
		select {
		case <-ctl.current.Done():
		default:
			return nil, ErrCallActive
		}
	}
	s := ctl.build()
	ctl.current = s
	return s, nil
}

// release drops a session whose start failed, so the next command gets a
// fresh one.
func (ctl *CallController) release(s Call) {
	ctl.mu.Lock()
	if ctl.current == s {
		ctl.current = nil
	}
	ctl.mu.Unlock()
}

func (ctl *CallController) active() Call {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.current
}

// Shutdown hangs up the live call, if any, so the room documents are
// cleaned before the process exits.
func (ctl *CallController) Shutdown(ctx context.Context) {
	s := ctl.active()
	if s == nil {
		return
	}
	if err := s.Hangup(ctx); err != nil {
		log.Warn().Err(err).Str("module", "adapters.httpapi").Msg("hangup on shutdown")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRoomCode):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRoomNotFound), errors.Is(err, core.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCallActive),
		errors.Is(err, app.ErrNotInCall),
		errors.Is(err, app.ErrNoAlternateCamera),
		errors.Is(err, core.ErrRoomCodeTaken),
		errors.Is(err, core.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrMediaAccessDenied):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (ctl *CallController) handleHost(c *gin.Context) {
	s, err := ctl.takeIdle()
	if err != nil {
		writeError(c, err)
		return
	}
	code, err := s.Host(c.Request.Context())
	if err != nil {
		ctl.release(s)
		writeError(c, err)
		return
	}
	rememberRoom(c, code)
	log.Info().Str("module", "adapters.httpapi").Str("room", string(code)).Msg("call hosted")
	c.JSON(http.StatusOK, gin.H{"room": code})
}

type joinRequest struct {
	Room string `json:"room" binding:"required,roomcode"`
}

func (ctl *CallController) handleJoin(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid room"})
		return
	}
	code := domain.RoomCode(req.Room)
	if !ctl.joins.allow(c.GetString("client_token")) {
		writeError(c, ErrTooManyAttempts)
		return
	}
	s, err := ctl.takeIdle()
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.Join(c.Request.Context(), code); err != nil {
		ctl.release(s)
		writeError(c, err)
		return
	}
	rememberRoom(c, code)
	log.Info().Str("module", "adapters.httpapi").Str("room", string(code)).Msg("call joined")
	c.JSON(http.StatusOK, gin.H{"room": code})
}

func (ctl *CallController) handleHangup(c *gin.Context) {
	s := ctl.active()
	if s == nil {
		writeError(c, app.ErrNotInCall)
		return
	}
	if err := s.Hangup(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": "ended"})
}

func (ctl *CallController) handleCamera(c *gin.Context) {
	s := ctl.active()
	if s == nil {
		writeError(c, app.ErrNotInCall)
		return
	}
	on, err := s.ToggleCamera(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"camera": on})
}

func (ctl *CallController) handleAudio(c *gin.Context) {
	s := ctl.active()
	if s == nil {
		writeError(c, app.ErrNotInCall)
		return
	}
	on, err := s.ToggleAudio(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio": on})
}

func (ctl *CallController) handleSwitchCamera(c *gin.Context) {
	s := ctl.active()
	if s == nil {
		writeError(c, app.ErrNotInCall)
		return
	}
	if err := s.SwitchCamera(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "switched"})
}

func (ctl *CallController) handleState(c *gin.Context) {
	s := ctl.active()
	if s == nil {
		c.JSON(http.StatusOK, app.Snapshot{State: "idle"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// rememberRoom keeps the last dialed code in the cookie session so a UI
// can prefill it.
func rememberRoom(c *gin.Context, code domain.RoomCode) {
	sess := sessions.Default(c)
	sess.Set("last_room", string(code))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.httpapi").Msg("session save failed")
	}
}

func (ctl *CallController) handleRecent(c *gin.Context) {
	sess := sessions.Default(c)
	room, _ := sess.Get("last_room").(string)
	c.JSON(http.StatusOK, gin.H{"room": room})
}
