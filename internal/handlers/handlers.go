package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/predictor"
	"github.com/example/neuroscan/internal/presenter"
	"github.com/example/neuroscan/internal/repository"
	"github.com/example/neuroscan/internal/selector"
	"github.com/example/neuroscan/internal/session"
	"github.com/example/neuroscan/internal/usecase"
	"github.com/example/neuroscan/internal/workflow"
)

// MaxUploadSize is the default limit for one uploaded scan.
const MaxUploadSize = 10 << 20

const (
	sessionContextKey = "session"
	historyLimit      = 20
)

//go:embed templates/*.html
var templatesFS embed.FS

// ResultReader looks up recorded analyses.
type ResultReader interface {
	GetResult(ctx context.Context, analysisID string) (*repository.AnalysisLog, error)
	History(ctx context.Context, sessionID string, limit int) ([]*repository.AnalysisLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Options configures the HTTP surface.
type Options struct {
	CookieName     string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	// AuthMiddleware guards the analysis log API. Nil leaves it open.
	AuthMiddleware gin.HandlerFunc
}

// Handler serves the analysis page and its JSON API.
type Handler struct {
	sessions *session.Store
	results  ResultReader
	opts     Options
	logger   *zap.Logger
}

// New creates a Handler.
func New(sessions *session.Store, results ResultReader, opts Options, logger *zap.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	if opts.CookieName == "" {
		opts.CookieName = "neuroscan_session"
	}
	return &Handler{sessions: sessions, results: results, opts: opts, logger: logger.Named("http")}
}

// Templates parses the embedded page templates.
func Templates() *template.Template {
	return template.Must(template.New("").ParseFS(templatesFS, "templates/*.html"))
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	router.SetHTMLTemplate(Templates())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	web := router.Group("/", h.withSession)
	web.GET("/", h.page)
	web.GET("/api/state", h.state)
	web.GET("/api/history", h.history)
	web.POST("/select", h.requireSession, h.selectImage)
	web.POST("/clear", h.requireSession, h.clearSelection)
	web.POST("/analyze", h.requireSession, h.analyze)

	api := router.Group("/api")
	if h.opts.AuthMiddleware != nil {
		api.Use(h.opts.AuthMiddleware)
	}
	api.GET("/analyses/:id", h.getAnalysis)
	api.GET("/metrics", h.metrics)
}

// withSession attaches the caller's live session, if any. Reads never
// create one.
func (h *Handler) withSession(c *gin.Context) {
	if id, err := c.Cookie(h.opts.CookieName); err == nil {
		if s, ok := h.sessions.Get(id); ok {
			c.Set(sessionContextKey, s)
		}
	}
	c.Next()
}

// requireSession creates the session on the caller's first state change.
func (h *Handler) requireSession(c *gin.Context) {
	if lookupSession(c) != nil {
		c.Next()
		return
	}

	s, _, err := h.sessions.GetOrCreate("")
	if err != nil {
		h.logger.Warn("failed to create session", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many active sessions, please try again later"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, s.ID, int(h.opts.SessionTTL.Seconds()), "/", "", false, true)
	c.Set(sessionContextKey, s)
	c.Next()
}

func lookupSession(c *gin.Context) *session.Session {
	if value, ok := c.Get(sessionContextKey); ok {
		return value.(*session.Session)
	}
	return nil
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionContextKey).(*session.Session)
}

func (h *Handler) page(c *gin.Context) {
	var (
		snap  workflow.Snapshot
		notes []workflow.Notification
	)
	if s := lookupSession(c); s != nil {
		snap, notes = s.Workflow.Snapshot(), s.Drain()
	}
	c.HTML(http.StatusOK, "index.html", newPageView(snap, notes))
}

func (h *Handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, newStateView(lookupSession(c)))
}

func (h *Handler) history(c *gin.Context) {
	views := []analysisView{}
	if s := lookupSession(c); s != nil {
		logs, err := h.results.History(c.Request.Context(), s.ID, historyLimit)
		if err != nil {
			h.logger.Error("failed to load history", zap.Error(err), zap.String("session_id", s.ID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		for _, log := range logs {
			views = append(views, newAnalysisView(log))
		}
	}
	c.JSON(http.StatusOK, gin.H{"analyses": views})
}

func (h *Handler) selectImage(c *gin.Context) {
	s := currentSession(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	var files []selector.File
	form, err := c.MultipartForm()
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		h.fail(c, s, http.StatusRequestEntityTooLarge, workflow.Notification{
			Title:       "Image too large",
			Description: "Please choose a smaller brain scan image",
			Variant:     workflow.VariantDestructive,
		})
		return
	case err == nil:
		files, err = readFiles(form.File["file"])
		if err != nil {
			h.logger.Warn("failed to read upload", zap.Error(err), zap.String("session_id", s.ID))
			h.fail(c, s, http.StatusBadRequest, workflow.Notification{
				Title:       "Upload failed",
				Description: "The selected file could not be read",
				Variant:     workflow.VariantDestructive,
			})
			return
		}
	}

	// Drag events and posts without a file leave the selection alone.
	if _, err := s.Offer(selector.ParseSource(c.PostForm("source")), files); err != nil {
		h.busy(c, s)
		return
	}
	h.respond(c, s, http.StatusOK)
}

func (h *Handler) clearSelection(c *gin.Context) {
	s := currentSession(c)
	if err := s.Workflow.Clear(); err != nil {
		h.busy(c, s)
		return
	}
	h.respond(c, s, http.StatusOK)
}

func (h *Handler) analyze(c *gin.Context) {
	s := currentSession(c)
	// The analysis outlives a client that navigates away; its outcome is
	// still stored on the session.
	ctx := context.WithoutCancel(c.Request.Context())

	_, err := s.Workflow.Analyze(ctx)
	switch {
	case errors.Is(err, workflow.ErrNoSelection):
		h.respond(c, s, http.StatusUnprocessableEntity)
	case errors.Is(err, workflow.ErrAnalysisInFlight):
		h.busy(c, s)
	default:
		// Success and failure both end in a stored workflow state.
		h.respond(c, s, http.StatusOK)
	}
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	if analysisID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	log, err := h.results.GetResult(c.Request.Context(), analysisID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load analysis", zap.Error(err), zap.String("analysis_id", analysisID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
		return
	}

	c.JSON(http.StatusOK, newAnalysisView(log))
}

func (h *Handler) metrics(c *gin.Context) {
	summary, err := h.results.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) busy(c *gin.Context, s *session.Session) {
	h.fail(c, s, http.StatusConflict, workflow.Notification{
		Title:       "Analysis in progress",
		Description: "Please wait for the current analysis to finish",
		Variant:     workflow.VariantDestructive,
	})
}

func (h *Handler) fail(c *gin.Context, s *session.Session, status int, n workflow.Notification) {
	s.Notify(n)
	h.respond(c, s, status)
}

// respond answers JSON clients with the state and browsers with a redirect
// back to the page, where queued notifications are shown.
func (h *Handler) respond(c *gin.Context, s *session.Session, status int) {
	if wantsJSON(c) {
		c.JSON(status, newStateView(s))
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

func readFiles(headers []*multipart.FileHeader) ([]selector.File, error) {
	// Only the first file can be selected, so only it is read.
	if len(headers) == 0 {
		return nil, nil
	}
	header := headers[0]
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return []selector.File{{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}}, nil
}

type imageView struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type stateView struct {
	Phase         string                  `json:"phase"`
	IsAnalyzing   bool                    `json:"is_analyzing"`
	CanAnalyze    bool                    `json:"can_analyze"`
	CanClear      bool                    `json:"can_clear"`
	DragActive    bool                    `json:"drag_active"`
	Image         *imageView              `json:"image,omitempty"`
	AnalysisID    string                  `json:"analysis_id,omitempty"`
	Result        *predictor.Prediction   `json:"result,omitempty"`
	Verdict       *presenter.Verdict      `json:"verdict,omitempty"`
	ErrorDetail   string                  `json:"error_detail,omitempty"`
	Notifications []workflow.Notification `json:"notifications"`
}

// newStateView renders s, draining its notifications. A nil session is
// shown as idle.
func newStateView(s *session.Session) stateView {
	var (
		snap  workflow.Snapshot
		notes []workflow.Notification
		drag  bool
	)
	if s != nil {
		snap, notes, drag = s.Workflow.Snapshot(), s.Drain(), s.DragActive()
	}

	view := stateView{
		Phase:         snap.Phase.String(),
		IsAnalyzing:   snap.IsAnalyzing(),
		CanAnalyze:    snap.CanAnalyze(),
		CanClear:      snap.CanClear(),
		DragActive:    drag,
		AnalysisID:    snap.AnalysisID,
		Verdict:       presenter.Present(snap.Result),
		ErrorDetail:   snap.ErrorDetail,
		Result:        snap.Result,
		Notifications: notes,
	}
	if view.Notifications == nil {
		view.Notifications = []workflow.Notification{}
	}
	if snap.Image != nil {
		view.Image = &imageView{
			ID:          snap.Image.ID,
			Filename:    snap.Image.Filename,
			ContentType: snap.Image.ContentType,
			Size:        len(snap.Image.Data),
		}
	}
	return view
}

type analysisView struct {
	AnalysisID  string    `json:"analysis_id"`
	Filename    string    `json:"filename"`
	ImageSHA1   string    `json:"image_sha1"`
	Prediction  string    `json:"prediction"`
	Confidence  float64   `json:"confidence"`
	Status      string    `json:"status"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"error_detail"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func newAnalysisView(log *repository.AnalysisLog) analysisView {
	return analysisView{
		AnalysisID:  log.AnalysisID,
		Filename:    log.Filename,
		ImageSHA1:   log.ImageSHA1,
		Prediction:  log.Prediction,
		Confidence:  log.Confidence,
		Status:      log.Status,
		Success:     log.Success,
		ErrorDetail: log.ErrorDetail,
		LatencyMs:   log.LatencyMs,
		CreatedAt:   log.CreatedAt,
	}
}

type pageView struct {
	State   workflow.Snapshot
	Preview template.URL
	Verdict *presenter.Verdict
	Notes   []workflow.Notification
}

func newPageView(snap workflow.Snapshot, notes []workflow.Notification) pageView {
	view := pageView{
		State:   snap,
		Verdict: presenter.Present(snap.Result),
		Notes:   notes,
	}
	if snap.Image != nil && selector.IsImage(snap.Image.ContentType) {
		// Preview handles are data: URLs built from an accepted image type.
		view.Preview = template.URL(snap.Image.PreviewURL)
	}
	return view
}
