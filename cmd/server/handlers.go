package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/modelminds/gradeboard/internal/alert"
	"github.com/modelminds/gradeboard/internal/chat"
	"github.com/modelminds/gradeboard/internal/config"
	"github.com/modelminds/gradeboard/internal/dataset"
	apperrors "github.com/modelminds/gradeboard/internal/errors"
	"github.com/modelminds/gradeboard/internal/frontend"
	"github.com/modelminds/gradeboard/internal/model"
	"github.com/modelminds/gradeboard/internal/monitoring"
	"github.com/modelminds/gradeboard/internal/ratelimit"
	"github.com/modelminds/gradeboard/internal/report"
	"github.com/modelminds/gradeboard/internal/risk"
	"github.com/modelminds/gradeboard/internal/security"
	"github.com/modelminds/gradeboard/internal/session"
)

const sessionCookie = "gradeboard_session"

type server struct {
	cfg        config.Config
	sessions   *session.Manager
	dispatcher *alert.Dispatcher
	chatClient *chat.Client
	logger     *monitoring.Logger
}

func newServer(cfg config.Config, sessions *session.Manager, dispatcher *alert.Dispatcher,
	chatClient *chat.Client, logger *monitoring.Logger) *server {
	return &server{
		cfg:        cfg,
		sessions:   sessions,
		dispatcher: dispatcher,
		chatClient: chatClient,
		logger:     logger,
	}
}

func (s *server) router() *gin.Engine {
	r := gin.New()

	r.Use(monitoring.RequestLogging(s.logger))
	r.Use(apperrors.RecoveryHandler())
	r.Use(security.Headers())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	r.Use(apperrors.ErrorHandler())

	limiter := ratelimit.NewIPLimiter(ratelimit.DefaultConfig())
	r.Use(limiter.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/session", s.createSession)
		api.GET("/session", s.getSession)
		api.DELETE("/session", s.destroySession)
		api.POST("/predict", s.predict)
		api.GET("/stats", s.stats)
		api.GET("/students/:id", s.getStudent)
		api.GET("/insights", s.insights)
		api.GET("/report/top", s.reportTop)
		api.POST("/report/alert", s.reportAlert)
		api.POST("/upload", s.upload)
		api.POST("/chat", s.chatCompletion)
	}

	distFS, err := frontend.GetDistFS()
	if err != nil {
		slog.Error("failed to load embedded frontend", "error", err)
	} else {
		r.NoRoute(frontend.NewHandler(distFS))
	}

	return r
}

// abortWithError hands a failure to the centralized error middleware; no
// boundary operation propagates uncaught.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// profile resolves the caller's session from the cookie.
func (s *server) profile(c *gin.Context) (*session.Profile, bool) {
	id, err := c.Cookie(sessionCookie)
	if err != nil {
		abortWithError(c, apperrors.NewNotFoundError("no active session; select a role first"))
		return nil, false
	}

	p, ok := s.sessions.Get(id)
	if !ok {
		abortWithError(c, apperrors.NewNotFoundError("session expired; select a role again"))
		return nil, false
	}
	return p, true
}

func (s *server) requireRole(c *gin.Context, role session.Role) (*session.Profile, bool) {
	p, ok := s.profile(c)
	if !ok {
		return nil, false
	}
	if p.Role != role {
		abortWithError(c, apperrors.NewValidationError(
			fmt.Sprintf("this operation requires the %s role", role), nil))
		return nil, false
	}
	return p, true
}

type sessionRequest struct {
	Role         session.Role `json:"role" binding:"required,oneof=student teacher"`
	StudentID    string       `json:"student_id"`
	TeacherEmail string       `json:"teacher_email" binding:"omitempty,email"`
}

func (s *server) createSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.NewValidationError("invalid session request: "+err.Error(), nil))
		return
	}

	if req.Role == session.RoleTeacher && req.TeacherEmail == "" {
		abortWithError(c, apperrors.NewValidationError("teacher email is required", nil))
		return
	}

	// Loading the source dataset is fatal to session start; the failure
	// is shown to the user, never defaulted.
	records, err := dataset.Load(s.cfg.DataPath)
	if err != nil {
		abortWithError(c, err)
		return
	}

	p := s.sessions.Create(req.Role, records)
	p.TeacherEmail = req.TeacherEmail

	if req.Role == session.RoleStudent && req.StudentID != "" {
		rec, found := dataset.FindByID(records, req.StudentID)
		if !found {
			s.sessions.Destroy(p.ID)
			abortWithError(c, apperrors.NewNotFoundError(
				fmt.Sprintf("no data found for student ID %q", req.StudentID)))
			return
		}
		p.SetStudent(rec)
	}

	c.SetCookie(sessionCookie, p.ID, 0, "/", "", false, true)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": p.ID,
		"role":       p.Role,
		"rows":       len(records),
	})
}

func (s *server) getSession(c *gin.Context) {
	p, ok := s.profile(c)
	if !ok {
		return
	}

	resp := gin.H{
		"session_id":  p.ID,
		"role":        p.Role,
		"established": p.Established(),
	}
	if p.Student != nil {
		resp["student"] = p.Student
	}
	if p.TeacherEmail != "" {
		resp["teacher_email"] = p.TeacherEmail
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) destroySession(c *gin.Context) {
	if id, err := c.Cookie(sessionCookie); err == nil {
		s.sessions.Destroy(id)
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "session destroyed"})
}

// predict handles the student metric entry form: validate, predict,
// evaluate risk, and dispatch an alert when warranted. A failed dispatch
// is a visible non-fatal warning; the prediction itself is never lost.
func (s *server) predict(c *gin.Context) {
	p, ok := s.requireRole(c, session.RoleStudent)
	if !ok {
		return
	}

	var rec dataset.StudentRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		abortWithError(c, apperrors.NewValidationError("invalid metric entry: "+err.Error(), nil))
		return
	}
	if err := rec.Validate(); err != nil {
		abortWithError(c, err)
		return
	}

	p.SetStudent(rec)

	artifact, _, err := p.Model()
	if err != nil {
		abortWithError(c, err)
		return
	}

	score := model.Predict(artifact, rec.Features())
	assessment := risk.Evaluate(score, rec)
	s.logger.PredictionLogger(string(p.Role), score, assessment.AtRisk, len(assessment.Reasons))

	resp := gin.H{
		"predicted_score": score,
		"gpa":             score / 100 * 10,
		"risk":            assessment,
		"alert_sent":      false,
	}

	switch {
	case assessment.AtRisk && len(assessment.Reasons) > 0:
		if !s.cfg.MailConfigured() {
			resp["alert_error"] = "mail transport is not configured"
			break
		}
		body := alert.StudentBody(rec.FirstName, assessment.Reasons)
		if err := s.dispatcher.Notify(c.Request.Context(), rec.Email, alert.Subject, body); err != nil {
			appErr := apperrors.ToAppError(err)
			apperrors.LogError(c, appErr)
			s.logger.AlertLogger(rec.Email, false, appErr)
			resp["alert_error"] = appErr.ErrBuilder.Msg
		} else {
			s.logger.AlertLogger(rec.Email, true, nil)
			resp["alert_sent"] = true
		}
	case assessment.AtRisk:
		// At risk but no tracked feature is below threshold: surfaced as
		// an informational no-op rather than silently dropped.
		resp["note"] = "final score is low, but no major issues found in contributing factors"
	}

	c.JSON(http.StatusOK, resp)
}

func (s *server) stats(c *gin.Context) {
	p, ok := s.requireRole(c, session.RoleTeacher)
	if !ok {
		return
	}

	_, stats, err := p.Model()
	if err != nil {
		abortWithError(c, err)
		return
	}

	records := p.Records()
	preview := records
	if len(preview) > 5 {
		preview = preview[:5]
	}

	c.JSON(http.StatusOK, gin.H{
		"r2":      stats.R2,
		"rmse":    stats.RMSE,
		"rows":    len(records),
		"preview": preview,
	})
}

func (s *server) getStudent(c *gin.Context) {
	p, ok := s.requireRole(c, session.RoleTeacher)
	if !ok {
		return
	}

	rec, found := dataset.FindByID(p.Records(), c.Param("id"))
	if !found {
		abortWithError(c, apperrors.NewNotFoundError(
			fmt.Sprintf("no data found for student ID %q", c.Param("id"))))
		return
	}

	artifact, _, err := p.Model()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"student":         rec,
		"predicted_score": model.Predict(artifact, rec.Features()),
	})
}

// insights mirrors the student stats page: percentile band plus
// strength/warning hints.
func (s *server) insights(c *gin.Context) {
	p, ok := s.requireRole(c, session.RoleStudent)
	if !ok {
		return
	}
	if p.Student == nil {
		abortWithError(c, apperrors.NewValidationError("enter your details first", nil))
		return
	}
	rec := *p.Student

	artifact, _, err := p.Model()
	if err != nil {
		abortWithError(c, err)
		return
	}
	score := model.Predict(artifact, rec.Features())

	var band string
	switch {
	case score >= 80:
		band = "You're in the Top 25% based on predicted scores."
	case score >= 60:
		band = "You're in the Middle 50% - keep pushing!"
	default:
		band = "You're in the Bottom 25% - take action early."
	}

	var hints []string
	if rec.Midterm >= 75 {
		hints = append(hints, "You're doing well in midterms!")
	}
	if rec.Assignments < 50 {
		hints = append(hints, "Your assignment score is low. Focus here.")
	}
	if rec.Attendance < 75 {
		hints = append(hints, "Low attendance might affect your performance.")
	}

	c.JSON(http.StatusOK, gin.H{
		"predicted_score": score,
		"band":            band,
		"hints":           hints,
		"timeline": []gin.H{
			{"stage": "Midterm", "score": rec.Midterm},
			{"stage": "Assignment", "score": rec.Assignments},
			{"stage": "Final Prediction", "score": score},
		},
	})
}

func (s *server) reportTop(c *gin.Context) {
	p, ok := s.requireRole(c, session.RoleTeacher)
	if !ok {
		return
	}

	n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
	if err != nil || n < 0 {
		abortWithError(c, apperrors.NewValidationError("n must be a non-negative integer", nil))
		return
	}

	artifact, _, err := p.Model()
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Ranked over the held-out rows, same as the evaluation stats.
	preds := report.Predict(artifact, model.HeldOut(p.Records()))
	c.JSON(http.StatusOK, gin.H{"predictions": report.TopN(preds, n)})
}

type alertRequest struct {
	Threshold int `json:"threshold" binding:"required"`
}

func (s *server) reportAlert(c *gin.Context) {
	p, ok := s.requireRole(c, session.RoleTeacher)
	if !ok {
		return
	}

	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.NewValidationError("invalid alert request: "+err.Error(), nil))
		return
	}
	if !risk.ValidAggregateThreshold(req.Threshold) {
		abortWithError(c, apperrors.NewValidationError("threshold must be one of 10,20,...,100", nil))
		return
	}

	artifact, _, err := p.Model()
	if err != nil {
		abortWithError(c, err)
		return
	}

	preds := report.Predict(artifact, p.Records())
	below := report.BelowThreshold(preds, float64(req.Threshold))

	if !s.cfg.MailConfigured() {
		abortWithError(c, apperrors.NewTransportError("mail transport is not configured", nil))
		return
	}

	body := alert.TeacherBody(req.Threshold, below)
	if err := s.dispatcher.Notify(c.Request.Context(), p.TeacherEmail, alert.Subject, body); err != nil {
		s.logger.AlertLogger(p.TeacherEmail, false, err)
		abortWithError(c, err)
		return
	}
	s.logger.AlertLogger(p.TeacherEmail, true, nil)

	c.JSON(http.StatusOK, gin.H{
		"sent":          true,
		"at_risk_count": len(below),
	})
}

// upload replaces the session's working dataset with an uploaded
// marksheet. In-memory only; discarded with the session.
func (s *server) upload(c *gin.Context) {
	p, ok := s.profile(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, apperrors.NewValidationError("choose a CSV file to upload", nil))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, apperrors.NewDataUnavailableError("uploaded file could not be read", err))
		return
	}
	defer f.Close()

	records, err := dataset.Parse(f)
	if err != nil {
		abortWithError(c, err)
		return
	}

	p.SetRecords(records)
	c.JSON(http.StatusOK, gin.H{"rows": len(records)})
}

type chatRequest struct {
	Messages []chat.Message `json:"messages" binding:"required,min=1,dive"`
}

func (s *server) chatCompletion(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.NewValidationError("invalid chat request: "+err.Error(), nil))
		return
	}

	if !s.cfg.ChatConfigured() {
		abortWithError(c, apperrors.NewExternalAPIError("chat", fmt.Errorf("API key not configured")))
		return
	}

	reply, err := s.chatClient.Complete(c.Request.Context(), req.Messages)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
