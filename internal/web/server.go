// Package web exposes the snapshot, derived views, and write commands over
// HTTP so presentation collaborators can poll them.
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beekhof/caldav-agenda/internal/engine"
	"github.com/beekhof/caldav-agenda/internal/view"
	"github.com/beekhof/caldav-agenda/pkg/logger"
)

// Server serves the per-account calendar API.
type Server struct {
	engines  map[string]*engine.Engine
	order    []string
	gatherer prometheus.Gatherer
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Server over the given engines. Engine order is preserved in
// list responses.
func New(engines []*engine.Engine, gatherer prometheus.Gatherer, loc *time.Location, log *zap.Logger) *Server {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engines:  make(map[string]*engine.Engine, len(engines)),
		gatherer: gatherer,
		loc:      loc,
		now:      time.Now,
		log:      log,
	}
	for _, e := range engines {
		s.engines[e.Account()] = e
		s.order = append(s.order, e.Account())
	}
	return s
}

// Router builds the gin router with all API routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(s.log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.GET("/accounts", s.listAccounts)

	account := api.Group("/accounts/:account")
	account.GET("/snapshot", s.getSnapshot)
	account.GET("/calendars", s.getCalendars)
	account.GET("/views", s.getViews)
	account.POST("/refresh", s.postRefresh)
	account.POST("/events", s.postEvent)

	return router
}

func (s *Server) engine(c *gin.Context) (*engine.Engine, bool) {
	e, found := s.engines[c.Param("account")]
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
	}
	return e, found
}

func (s *Server) listAccounts(c *gin.Context) {
	type accountStatus struct {
		Name     string `json:"name"`
		State    string `json:"state"`
		Degraded bool   `json:"degraded"`
	}
	accounts := make([]accountStatus, 0, len(s.order))
	for _, name := range s.order {
		e := s.engines[name]
		status := accountStatus{Name: name, State: e.State().String()}
		if snap := e.Snapshot(); snap != nil {
			status.Degraded = snap.Degraded()
		}
		accounts = append(accounts, status)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) getSnapshot(c *gin.Context) {
	e, found := s.engine(c)
	if !found {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":    e.State().String(),
		"snapshot": e.Snapshot(),
	})
}

func (s *Server) getCalendars(c *gin.Context) {
	e, found := s.engine(c)
	if !found {
		return
	}
	c.JSON(http.StatusOK, gin.H{"calendars": e.Calendars()})
}

func (s *Server) getViews(c *gin.Context) {
	e, found := s.engine(c)
	if !found {
		return
	}

	snap := e.Snapshot()
	now := s.now().In(s.loc)

	resp := gin.H{
		"state":    e.State().String(),
		"counts":   view.CountsAt(snap, now),
		"days":     view.DayBuckets(snap, now),
		"degraded": snap != nil && snap.Degraded(),
	}
	if next, found := view.CurrentOrNext(snap, now); found {
		resp["next_event"] = next
	}
	if calendarID := c.Query("calendar_id"); calendarID != "" {
		resp["events"] = view.ByCalendar(snap, calendarID)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postRefresh(c *gin.Context) {
	e, found := s.engine(c)
	if !found {
		return
	}
	snap, err := e.Refresh(c.Request.Context())
	if err != nil {
		// Only the terminal authentication failure escapes a refresh.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap})
}

type createEventRequest struct {
	CalendarID  string    `json:"calendar_id" binding:"required"`
	Title       string    `json:"title" binding:"required"`
	Start       time.Time `json:"start" binding:"required"`
	End         time.Time `json:"end" binding:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
}

func (s *Server) postEvent(c *gin.Context) {
	e, found := s.engine(c)
	if !found {
		return
	}

	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created := e.CreateEvent(c.Request.Context(), req.CalendarID, req.Title, req.Start, req.End, req.Description, req.Location)
	if !created {
		c.JSON(http.StatusBadGateway, gin.H{"created": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": true})
}
