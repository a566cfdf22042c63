// Package server 是在线推荐的 HTTP 接口：
//
//	POST /timeline  {"user_id": 1, "offset": 0, "limit": 20}
//	POST /reload    从制品存储重新加载 latest.model
//	GET  /healthz   当前模型版本
//	GET  /metrics   prometheus 指标
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/logging"
	"github.com/rushteam/mmrec/model"
	"github.com/rushteam/mmrec/timeline"
)

// Server 持有在线排序所需的全部协作方，创建后只读。
type Server struct {
	handle       *model.Handle
	ranker       *timeline.Ranker
	candidates   core.CandidateSource
	reloader     *Reloader
	defaultLimit int
	logger       zerolog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithReloader 启用 POST /reload。
func WithReloader(r *Reloader) Option {
	return func(s *Server) { s.reloader = r }
}

// WithDefaultLimit 设置请求未带 limit 时的页大小。
func WithDefaultLimit(n int) Option {
	return func(s *Server) { s.defaultLimit = n }
}

func New(handle *model.Handle, ranker *timeline.Ranker, candidates core.CandidateSource, opts ...Option) *Server {
	s := &Server{
		handle:       handle,
		ranker:       ranker,
		candidates:   candidates,
		defaultLimit: 20,
		logger:       logging.Component("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes 返回 chi 路由。
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/timeline", s.handleTimeline)
	r.Post("/reload", s.handleReload)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// TimelineRequest 是 POST /timeline 的请求体。limit 缺省时使用默认页大小，显式 0 表示取全部。
type TimelineRequest struct {
	UserID int64 `json:"user_id"`
	Offset int   `json:"offset"`
	Limit  *int  `json:"limit"`
}

// TimelinePost 是返回的单个帖子。
type TimelinePost struct {
	PostID    int64     `json:"post_id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// TimelineResponse 是 POST /timeline 的响应体。
type TimelineResponse struct {
	UserID       int64          `json:"user_id"`
	Branch       string         `json:"branch"`
	ModelVersion string         `json:"model_version"`
	Total        int            `json:"total"`
	Items        []TimelinePost `json:"items"`
}

// ErrorResponse 是错误响应体。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	var req TimelineRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.fail(w, r, core.InvalidInputErrorf(core.ModuleService, "server: bad request body: %v", err))
		return
	}
	limit := s.defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	snap := s.handle.Load()
	res, err := s.ranker.Timeline(r.Context(), snap, timeline.Request{
		UserID: req.UserID,
		Offset: req.Offset,
		Limit:  limit,
	}, s.candidates)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := TimelineResponse{
		UserID:       req.UserID,
		Branch:       string(res.Branch),
		ModelVersion: res.ModelVersion,
		Total:        res.Total,
		Items:        make([]TimelinePost, 0, len(res.Items)),
	}
	for _, it := range res.Items {
		resp.Items = append(resp.Items, TimelinePost{PostID: it.ID, Score: it.Score, CreatedAt: it.CreatedAt})
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		s.fail(w, r, core.NewDomainError(core.ModuleService, core.ErrorCodeUnavailable, "server: reload is not configured"))
		return
	}
	snap, err := s.reloader.Reload(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"model_version": snap.Version,
		"loaded_at":     snap.LoadedAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.handle.Load()
	if snap == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]any{"status": "no model"})
		return
	}
	render.JSON(w, r, map[string]any{
		"status":        "ok",
		"model_version": snap.Version,
		"loaded_at":     snap.LoadedAt,
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	code := core.ErrorCodeInternalError
	var de *core.DomainError
	if errors.As(err, &de) {
		code = de.Code
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: err.Error()})
}

// StatusOf 把领域错误码映射为 HTTP 状态码。
func StatusOf(err error) int {
	switch {
	case core.IsInvalidInput(err):
		return http.StatusBadRequest
	case core.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case core.IsExternal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
