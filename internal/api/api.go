package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compquest/server/internal/errors"
	"github.com/compquest/server/internal/game"
	"github.com/compquest/server/internal/hub"
	"github.com/compquest/server/internal/leaderboard"
	"github.com/compquest/server/internal/session"
)

type Config struct {
	Router      gin.IRouter
	Sessions    *session.Service
	Game        *game.Service
	Hub         *hub.Service
	Leaderboard *leaderboard.Service
	AuthToken   string
}

type API struct {
	sessions    *session.Service
	game        *game.Service
	hub         *hub.Service
	leaderboard *leaderboard.Service
	token       string
}

func New(c Config) *API {
	a := &API{
		sessions:    c.Sessions,
		game:        c.Game,
		hub:         c.Hub,
		leaderboard: c.Leaderboard,
		token:       c.AuthToken,
	}

	r := c.Router.Group("/compquest")
	r.GET("/health", a.health)
	r.GET("/ws/:session_id/:player_name", a.handleWS)

	authed := r.Group("", a.requireToken())
	authed.POST("/launch", a.createSession)
	authed.POST("/join-session/:session_id", a.joinSession)
	authed.POST("/join-random-session", a.joinRandomSession)
	authed.GET("/session/:session_id", a.getSession)
	authed.GET("/sessions", a.listSessions)
	authed.GET("/score/top", a.topPlayers)

	return a
}

type playerRequest struct {
	Name string `json:"name" binding:"required"`
}

func (a *API) createSession(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player name is required"),
			errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.Create(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": ss.ID,
		"message":    "Session created, waiting for second player.",
	})
}

func (a *API) joinSession(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player name is required"),
			errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.Join(c.Request.Context(), c.Param("session_id"), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}

	a.respondJoined(c, ss)
}

func (a *API) joinRandomSession(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player name is required"),
			errors.WithCause(err)))
		return
	}

	ss, err := a.sessions.JoinRandom(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}

	a.respondJoined(c, ss)
}

func (a *API) respondJoined(c *gin.Context, ss *session.Session) {
	snap := ss.Snapshot()

	if snap.Status == session.StatusReady {
		a.game.StartMatch(c.Request.Context(), ss)
		c.JSON(http.StatusOK, gin.H{
			"session_id": snap.SessionID,
			"message":    "Game ready!",
			"players":    snap.Players,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": snap.SessionID,
		"message":    "Waiting for second player...",
		"players":    snap.Players,
	})
}

func (a *API) getSession(c *gin.Context) {
	ss, err := a.sessions.Get(c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ss.Snapshot())
}

func (a *API) listSessions(c *gin.Context) {
	stats := a.sessions.Stats()

	sessions := make(map[string]gin.H)
	for _, ss := range a.sessions.All() {
		snap := ss.Snapshot()
		sessions[snap.SessionID] = gin.H{
			"players": snap.Players,
			"status":  snap.Status,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_sessions":   stats.Total,
		"waiting_sessions": stats.Waiting,
		"active_sessions":  stats.Active,
		"sessions":         sessions,
	})
}

func (a *API) topPlayers(c *gin.Context) {
	entries, err := a.leaderboard.TopPlayers(c.Request.Context(), leaderboard.TopPlayersRequest{})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"top_players": entries})
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "Running!",
		"sessions": a.sessions.Stats(),
	})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
