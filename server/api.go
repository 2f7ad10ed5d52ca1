package main

import (
	"context"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIServer provides read-only HTTP endpoints for health checking, meeting
// inspection and metrics. It runs on a separate TCP port from the control
// plane and never mutates registry state.
type APIServer struct {
	reg  *Registry
	echo *echo.Echo
}

// NewAPIServer constructs an APIServer and registers all routes.
func NewAPIServer(reg *Registry) *APIServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &APIServer{reg: reg, echo: e}
	s.registerRoutes()
	return s
}

func (s *APIServer) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/meetings", s.handleMeetings)
	s.echo.GET("/api/meetings/:code", s.handleMeeting)
	s.echo.GET("/api/stats", s.handleStats)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(s.reg))
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
}

// Run starts the Echo HTTP server on addr and blocks until ctx is cancelled.
func (s *APIServer) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}
}

// jsonErrorHandler renders every error as a JSON body so API consumers never
// see echo's HTML error page.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck // best-effort error body
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Meetings int    `json:"meetings"`
	Clients  int    `json:"clients"`
}

func (s *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Meetings: s.reg.MeetingCount(),
		Clients:  s.reg.ClientCount(),
	})
}

// MeetingSummary is one entry of GET /api/meetings.
type MeetingSummary struct {
	Code         string `json:"code"`
	Host         string `json:"host"`
	Participants int    `json:"participants"`
	Waiting      int    `json:"waiting"`
}

func (s *APIServer) handleMeetings(c echo.Context) error {
	codes := s.reg.MeetingCodes()
	sort.Strings(codes)
	out := make([]MeetingSummary, 0, len(codes))
	for _, code := range codes {
		host := s.reg.HostOf(code)
		if host == nil {
			continue // destroyed between snapshot calls
		}
		out = append(out, MeetingSummary{
			Code:         code,
			Host:         host.name,
			Participants: len(s.reg.ParticipantsOf(code)),
			Waiting:      len(s.reg.WaitingOf(code)),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// ParticipantInfo is one participant in GET /api/meetings/:code.
type ParticipantInfo struct {
	Name     string `json:"name"`
	IsHost   bool   `json:"is_host"`
	CameraOn bool   `json:"camera_on"`
}

// MeetingDetail is the payload for GET /api/meetings/:code.
type MeetingDetail struct {
	Code         string            `json:"code"`
	Participants []ParticipantInfo `json:"participants"`
	Waiting      []string          `json:"waiting"`
}

func (s *APIServer) handleMeeting(c echo.Context) error {
	code := c.Param("code")
	participants := s.reg.ParticipantsOf(code)
	if participants == nil {
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	detail := MeetingDetail{Code: code, Participants: []ParticipantInfo{}, Waiting: []string{}}
	for _, p := range participants {
		detail.Participants = append(detail.Participants, ParticipantInfo{
			Name:     p.name,
			IsHost:   p.isHost,
			CameraOn: p.cameraOn,
		})
	}
	for _, w := range s.reg.WaitingOf(code) {
		detail.Waiting = append(detail.Waiting, w.name)
	}
	return c.JSON(http.StatusOK, detail)
}

// StatsResponse is the payload for GET /api/stats.
type StatsResponse struct {
	Meetings  int    `json:"meetings"`
	Clients   int    `json:"clients"`
	Waiting   int    `json:"waiting"`
	Datagrams uint64 `json:"datagrams_relayed"`
	Bytes     uint64 `json:"bytes_relayed"`
	Dropped   uint64 `json:"datagrams_dropped"`
}

func (s *APIServer) handleStats(c echo.Context) error {
	datagrams, bytes, dropped, meetings, clients := s.reg.Stats()
	return c.JSON(http.StatusOK, StatsResponse{
		Meetings:  meetings,
		Clients:   clients,
		Waiting:   s.reg.WaitingCount(),
		Datagrams: datagrams,
		Bytes:     bytes,
		Dropped:   dropped,
	})
}
