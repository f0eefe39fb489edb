package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"driver_intake/internal/intake"
	"driver_intake/internal/registration"
	"driver_intake/internal/report"
)

// server exposes the intake flow over HTTP.
type server struct {
	app *app
}

func newEcho(a *app) *echo.Echo {
	s := &server{app: a}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			a.logger.Info("Request",
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/health", s.handleHealth)
	e.POST("/messages", s.handleMessage)
	e.GET("/conversations", s.handleListConversations)
	e.DELETE("/conversations/:phone", s.handleDiscardConversation)
	e.POST("/conversations/:phone/park", s.handleParkConversation)
	e.POST("/registrations", s.handleSubmitRegistration)
	e.GET("/progress", s.handleProgress)
	e.POST("/reports/daily", s.handleDailyReport)

	// Admin endpoints for manual reload
	e.POST("/admin/reload", s.handleReload)
	e.GET("/admin/rules", s.handleRules)

	return e
}

func (s *server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"timestamp":       s.app.now(),
		"auto_reload":     "enabled",
		"rules_loaded_at": s.app.rules.Classifier().LoadedAt(),
	})
}

func (s *server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "text is required"})
	}

	res, err := s.app.processor.Process(c.Request().Context(), intake.Message{Text: req.Text, Sender: req.Sender})
	if err != nil {
		return s.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, ResultResponse{Result: res, Prompt: resultPrompt(res)})
}

func (s *server) handleListConversations(c echo.Context) error {
	pending, err := s.app.processor.Pending(c.Request().Context())
	if err != nil {
		return s.errorJSON(c, err)
	}
	if pending == nil {
		pending = []registration.Record{}
	}
	return c.JSON(http.StatusOK, ConversationsResponse{Count: len(pending), Conversations: pending})
}

func (s *server) handleDiscardConversation(c echo.Context) error {
	if err := s.app.processor.Discard(c.Request().Context(), c.Param("phone")); err != nil {
		return s.errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) handleParkConversation(c echo.Context) error {
	res, err := s.app.processor.Park(c.Request().Context(), c.Param("phone"))
	if err != nil {
		return s.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, ResultResponse{Result: res})
}

func (s *server) handleSubmitRegistration(c echo.Context) error {
	var req RegistrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request"})
	}

	res, err := s.app.processor.Submit(c.Request().Context(), req.Record())
	if err != nil {
		return s.errorJSON(c, err)
	}
	status := http.StatusOK
	if res.Persisted {
		status = http.StatusCreated
	}
	return c.JSON(status, ResultResponse{Result: res, Prompt: resultPrompt(res)})
}

func (s *server) handleProgress(c echo.Context) error {
	progress, err := s.app.progress(c.Request().Context())
	if err != nil {
		return s.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

func (s *server) handleDailyReport(c echo.Context) error {
	var req ReportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request"})
	}
	if req.Date == "" {
		req.Date = c.QueryParam("date")
	}

	day, err := parseDay(req.Date, s.app.now())
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	summary, path, err := s.app.reports.Generate(c.Request().Context(), day)
	if err != nil {
		return s.errorJSON(c, err)
	}
	text, err := report.Render(summary)
	if err != nil {
		return s.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, ReportResponse{Path: path, Summary: summary, Text: text})
}

func (s *server) handleReload(c echo.Context) error {
	cfg, err := s.app.rules.Reload()
	if err != nil {
		return s.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, ReloadResponse{
		Message:    "Category rules and milestones reloaded",
		Categories: len(s.app.rules.Classifier().Rules()),
		Milestones: len(cfg.MilestoneTable()),
		ReloadedAt: s.app.now(),
	})
}

func (s *server) handleRules(c echo.Context) error {
	classifier := s.app.rules.Classifier()
	return c.JSON(http.StatusOK, RulesResponse{
		LoadedAt:   classifier.LoadedAt(),
		ConfigPath: s.app.rules.configPath,
		Categories: classifier.Rules(),
	})
}

// errorJSON maps the intake error kinds onto HTTP statuses.
func (s *server) errorJSON(c echo.Context, err error) error {
	switch {
	case errors.Is(err, registration.ErrValidation):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:  err.Error(),
			Prompt: "We could not find your phone number. Please send it again, e.g. \"phone (11) 91234-5678\".",
		})
	case errors.Is(err, intake.ErrNoConversation):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, registration.ErrStorage):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case errors.Is(err, registration.ErrConfig):
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	default:
		s.app.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// resultPrompt is the reply for the driver: the missing fields, or a thank you.
func resultPrompt(res intake.Result) string {
	if res.Complete {
		if res.Milestone != "" {
			return "Registration complete, thank you! " + res.Milestone
		}
		return "Registration complete, thank you!"
	}
	if len(res.Missing) == 0 {
		return ""
	}
	labels := make([]string, 0, len(res.Missing))
	for _, f := range res.Missing {
		labels = append(labels, fieldLabel(f))
	}
	return "Thanks! Please also send: " + strings.Join(labels, ", ") + "."
}

func fieldLabel(f registration.Field) string {
	switch f {
	case registration.FieldNationalID:
		return "CPF"
	case registration.FieldLicensePlate:
		return "license plate"
	case registration.FieldCourseCompleted:
		return "whether the course is completed (yes/no)"
	case registration.FieldCategory:
		return "vehicle type (TAC or aggregate)"
	default:
		return strings.ToLower(string(f))
	}
}

// parseDay reads a dd/mm/yyyy date in now's zone. Empty means now.
func parseDay(date string, now time.Time) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return now, nil
	}
	day, err := time.ParseInLocation("02/01/2006", date, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be dd/mm/yyyy, got %q", date)
	}
	return day, nil
}
