package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbboard"
	"github.com/corkboard/corkboard/internal/cbcooldown"
	"github.com/corkboard/corkboard/internal/cbreview"
	"github.com/corkboard/corkboard/internal/cbstore"
)

const (
	// Hard cap on request body size. The largest legitimate requests are
	// attachment submissions carrying an 8 MiB file as a base64 data URL,
	// which inflates to a little over 10 MiB on the wire.
	MaxRequestSize = 12 * 1024 * 1024

	// Requests that outlive this are cancelled and answered with a 504.
	RequestTimeout = 30 * time.Second
)

const (
	MessagePostDeleted   = "Post has been deleted along with its attachment requests."
	MessageThreadDeleted = "Thread has been deleted along with its attachment requests."
)

type Server struct {
	cooldown   *cbcooldown.Limiter
	httpServer *http.Server
	logger     *logrus.Logger
	router     *mux.Router
	svc        *cbboard.Service
	timeNow    func() time.Time
	validate   *validator.Validate
}

func NewServer(logger *logrus.Logger, svc *cbboard.Service, cooldown *cbcooldown.Limiter, staticDir string, port int) *Server { //nolint:lll
	server := &Server{
		cooldown: cooldown,
		logger:   logger,
		svc:      svc,
		timeNow:  func() time.Time { return time.Now() },
		validate: newValidate(),
	}

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&CORSMiddleware{}).Wrapper)
	router.Use((&CanonicalLogLineMiddleware{logger: logger}).Wrapper)
	router.Use(NewTimeoutMiddleware(RequestTimeout).Wrapper)

	router.Handle("/healthz", server.wrapEndpoint(server.handleHealthz)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Handle("/threads", server.wrapEndpoint(server.handleListThreads)).Methods(http.MethodGet)
	router.Handle("/threads", server.wrapEndpoint(server.handleCreateThread)).Methods(http.MethodPost)
	router.Handle("/threads/{id}", server.wrapEndpoint(server.handleGetThread)).Methods(http.MethodGet)
	router.Handle("/threads/{id}/posts", server.wrapEndpoint(server.handleAddPost)).Methods(http.MethodPost)
	router.Handle("/threads/{id}/tags", server.wrapEndpoint(server.handleMergeTags)).Methods(http.MethodPost)
	router.Handle("/threads/{id}/like", server.wrapEndpoint(server.handleLike)).Methods(http.MethodPost)
	router.Handle("/threads/{id}/view", server.wrapEndpoint(server.handleRecordView)).Methods(http.MethodPost)

	router.Handle("/attachments", server.wrapEndpoint(server.handleSubmitAttachment)).Methods(http.MethodPost)
	router.Handle("/verify-requests", server.wrapEndpoint(server.handleSubmitVerifyRequest)).Methods(http.MethodPost)
	router.Handle("/verify-status", server.wrapEndpoint(server.handleVerifyStatus)).Methods(http.MethodGet)

	router.Handle("/admin/login", server.wrapEndpoint(server.handleAdminLogin)).Methods(http.MethodPost)
	router.Handle("/admin/threads", server.wrapEndpoint(server.handleAdminListThreads)).Methods(http.MethodGet)
	router.Handle("/admin/threads/{id}", server.wrapEndpoint(server.handleAdminDeleteThread)).Methods(http.MethodDelete)
	router.Handle("/admin/threads/{id}/hide", server.wrapEndpoint(server.handleAdminHideThread)).Methods(http.MethodPost)
	router.Handle("/admin/threads/{id}/posts/{postID}", server.wrapEndpoint(server.handleAdminDeletePost)).Methods(http.MethodDelete)
	router.Handle("/admin/attachments", server.wrapEndpoint(server.handleAdminListAttachments)).Methods(http.MethodGet)
	router.Handle("/admin/attachments/{id}/review", server.wrapEndpoint(server.handleAdminReviewAttachment)).Methods(http.MethodPost)
	router.Handle("/admin/verify-requests", server.wrapEndpoint(server.handleAdminListVerifyRequests)).Methods(http.MethodGet)
	router.Handle("/admin/verify-requests/{id}/review", server.wrapEndpoint(server.handleAdminReviewVerifyRequest)).Methods(http.MethodPost)

	// A static frontend takes over the root when configured; otherwise the
	// root serves a small JSON banner.
	if staticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir))).Methods(http.MethodGet)
	} else {
		router.Handle("/", server.wrapEndpoint(server.handleIndex)).Methods(http.MethodGet)
	}

	// Mux doesn't run middleware for unmatched routes, so this handler can't
	// rely on a context container being present.
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.writeJSON(w, http.StatusNotFound, &ErrorResponse{Error: ErrCodeNotFound, Message: ErrMessageRouteNotFound})
	})

	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,

		// Specified to prevent the "Slowloris" DOS attack, in which an attacker
		// sends many partial requests to exhaust a target server's connections.
		//
		// https://en.wikipedia.org/wiki/Slowloris_(computer_security)
		ReadHeaderTimeout: 5 * time.Second,
	}
	server.router = router

	return server
}

func (s *Server) Start() error {
	s.logger.Infof("Listening on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("error listening on %s: %w", s.httpServer.Addr, err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx) //nolint:wrapcheck
}

//
// Public handlers
//

func (s *Server) handleIndex(_ context.Context, _ *http.Request) (*ServerResponse, error) {
	return NewServerResponse(http.StatusOK, map[string]string{
		"name":    "corkboard",
		"message": "An anonymous discussion board with admin-moderated attachments.",
	}, nil), nil
}

func (s *Server) handleHealthz(_ context.Context, _ *http.Request) (*ServerResponse, error) {
	return NewServerResponse(http.StatusOK, map[string]string{"status": "ok"}, nil), nil
}

func (s *Server) handleListThreads(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	sort, err := cbboard.ParseSort(r.URL.Query().Get("sort"))
	if err != nil {
		return nil, err
	}

	threads, err := s.svc.ListThreads(ctx, sort)
	if err != nil {
		return nil, xerrors.Errorf("error listing threads: %w", err)
	}

	return NewServerResponse(http.StatusOK, threads, nil), nil
}

type createThreadRequest struct {
	CreatorID string   `json:"creatorId" validate:"required"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Body      string   `json:"body" validate:"required"`
}

func (s *Server) handleCreateThread(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.checkCooldown(r); err != nil {
		return nil, err
	}

	var req createThreadRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	thread, err := s.svc.CreateThread(ctx, &cbboard.CreateThreadParams{
		CreatorID: req.CreatorID,
		Title:     req.Title,
		Tags:      req.Tags,
		Body:      req.Body,
	})
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, thread, nil), nil
}

func (s *Server) handleGetThread(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	thread, err := s.svc.GetThread(ctx, mux.Vars(r)["id"], r.URL.Query().Get("viewer"))
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, thread, nil), nil
}

type addPostRequest struct {
	AuthorID string `json:"authorId" validate:"required"`
	Body     string `json:"body" validate:"required"`
}

func (s *Server) handleAddPost(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.checkCooldown(r); err != nil {
		return nil, err
	}

	var req addPostRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	thread, err := s.svc.AddPost(ctx, mux.Vars(r)["id"], &cbboard.AddPostParams{
		AuthorID: req.AuthorID,
		Body:     req.Body,
	})
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, thread, nil), nil
}

type mergeTagsRequest struct {
	Tags []string `json:"tags" validate:"required"`
}

func (s *Server) handleMergeTags(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	var req mergeTagsRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	thread, err := s.svc.MergeTags(ctx, mux.Vars(r)["id"], req.Tags)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, thread, nil), nil
}

type likeRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (s *Server) handleLike(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	var req likeRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	result, err := s.svc.Like(ctx, mux.Vars(r)["id"], req.UserID)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, result, nil), nil
}

func (s *Server) handleRecordView(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	result, err := s.svc.RecordView(ctx, mux.Vars(r)["id"])
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, result, nil), nil
}

type submitAttachmentRequest struct {
	ThreadID    string           `json:"threadId" validate:"required"`
	PostID      string           `json:"postId" validate:"required"`
	RequesterID string           `json:"requesterId" validate:"required"`
	File        cbstore.FileDesc `json:"file"`
}

func (s *Server) handleSubmitAttachment(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	var req submitAttachmentRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	request, err := s.svc.SubmitAttachment(ctx, &cbboard.SubmitAttachmentParams{
		ThreadID:    req.ThreadID,
		PostID:      req.PostID,
		RequesterID: req.RequesterID,
		File:        req.File,
	})
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, request, nil), nil
}

type submitVerifyRequest struct {
	RequesterID string           `json:"requesterId" validate:"required"`
	File        cbstore.FileDesc `json:"file"`
}

func (s *Server) handleSubmitVerifyRequest(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	var req submitVerifyRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	request, err := s.svc.SubmitVerifyRequest(ctx, &cbboard.SubmitVerifyParams{
		RequesterID: req.RequesterID,
		File:        req.File,
	})
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, request, nil), nil
}

func (s *Server) handleVerifyStatus(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	status, err := s.svc.VerificationStatus(ctx, r.URL.Query().Get("user"))
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, status, nil), nil
}

//
// Admin handlers
//

type adminLoginRequest struct {
	Password string `json:"password" validate:"required"`
}

type adminLoginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleAdminLogin(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	var req adminLoginRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	token, err := s.svc.Login(req.Password)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, &adminLoginResponse{Token: token}, nil), nil
}

func (s *Server) handleAdminListThreads(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	sort, err := cbboard.ParseSort(r.URL.Query().Get("sort"))
	if err != nil {
		return nil, err
	}

	threads, err := s.svc.AdminListThreads(ctx, sort)
	if err != nil {
		return nil, xerrors.Errorf("error listing threads: %w", err)
	}

	return NewServerResponse(http.StatusOK, threads, nil), nil
}

type hideThreadRequest struct {
	// Pointer so that an absent field can be told apart from `false`.
	Hidden *bool `json:"hidden" validate:"required"`
}

func (s *Server) handleAdminHideThread(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	var req hideThreadRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	summary, err := s.svc.SetThreadHidden(ctx, mux.Vars(r)["id"], *req.Hidden)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, summary, nil), nil
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleAdminDeleteThread(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	if err := s.svc.DeleteThread(ctx, mux.Vars(r)["id"]); err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, &messageResponse{Message: MessageThreadDeleted}, nil), nil
}

func (s *Server) handleAdminDeletePost(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	vars := mux.Vars(r)
	if err := s.svc.DeletePost(ctx, vars["id"], vars["postID"]); err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, &messageResponse{Message: MessagePostDeleted}, nil), nil
}

func (s *Server) handleAdminListAttachments(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	filter, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		return nil, err
	}

	requests, err := s.svc.ListAttachments(ctx, filter)
	if err != nil {
		return nil, xerrors.Errorf("error listing attachment requests: %w", err)
	}

	return NewServerResponse(http.StatusOK, requests, nil), nil
}

func (s *Server) handleAdminListVerifyRequests(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	filter, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		return nil, err
	}

	requests, err := s.svc.ListVerifyRequests(ctx, filter)
	if err != nil {
		return nil, xerrors.Errorf("error listing verification requests: %w", err)
	}

	return NewServerResponse(http.StatusOK, requests, nil), nil
}

type reviewRequest struct {
	Action string `json:"action" validate:"required"`
	Note   string `json:"note"`
}

func (s *Server) handleAdminReviewAttachment(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	var req reviewRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	action, err := cbreview.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}

	request, err := s.svc.ReviewAttachment(ctx, mux.Vars(r)["id"], action, req.Note)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, request, nil), nil
}

func (s *Server) handleAdminReviewVerifyRequest(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.requireAdmin(r); err != nil {
		return nil, err
	}

	var req reviewRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}

	action, err := cbreview.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}

	request, err := s.svc.ReviewVerifyRequest(ctx, mux.Vars(r)["id"], action, req.Note)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(http.StatusOK, request, nil), nil
}

//
// Plumbing
//

type ServerResponse struct {
	Body       any
	Header     http.Header
	StatusCode int
}

func NewServerResponse(statusCode int, body any, header http.Header) *ServerResponse {
	return &ServerResponse{Body: body, Header: header, StatusCode: statusCode}
}

func (s *Server) wrapEndpoint(h func(ctx context.Context, r *http.Request) (*ServerResponse, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctxContainer := ContextContainerFrom(ctx)

		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestSize)

		resp, err := h(ctx, r)
		if err != nil {
			serverErr := asServerError(err)
			if serverErr == nil {
				s.logger.Errorf("server: Internal error serving %s %s: %v", r.Method, r.URL.Path, err)
				serverErr = NewServerError(http.StatusInternalServerError, ErrMessageInternalError)
			}

			ctxContainer.StatusCode = serverErr.StatusCode
			s.writeJSON(w, serverErr.StatusCode, &ErrorResponse{Error: serverErr.Code, Message: serverErr.Message})
			return
		}

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}

		ctxContainer.StatusCode = resp.StatusCode
		s.writeJSON(w, resp.StatusCode, resp.Body)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorf("server: Error encoding response body: %v", err)
	}
}

// decodeBody parses a JSON request body into dst and runs its `validate`
// tags. Domain-level rules (MIME classes, length caps, data URL shape) stay
// in the board service; this covers structural problems only.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return NewServerError(http.StatusBadRequest, ErrMessageBodyUnparseable)
	}

	if err := s.validate.Struct(dst); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			fieldErr := validationErrs[0]
			return NewServerError(http.StatusBadRequest,
				fmt.Sprintf("Field %q failed validation on the %q rule.", fieldErr.Field(), fieldErr.Tag()))
		}

		return NewServerError(http.StatusBadRequest, ErrMessageBodyInvalid)
	}

	return nil
}

// checkCooldown enforces the per-address posting cooldown on the
// content-creating endpoints. Requests with no discernible source address
// share a single bucket.
func (s *Server) checkCooldown(r *http.Request) error {
	var addr string
	if ip := getIP(r); ip != nil {
		addr = ip.String()
	}

	if !s.cooldown.AllowAt(s.timeNow(), addr) {
		return NewServerError(http.StatusTooManyRequests, ErrMessageRateLimited)
	}

	return nil
}

func (s *Server) requireAdmin(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return NewServerError(http.StatusUnauthorized, ErrMessageTokenMissing)
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return NewServerError(http.StatusUnauthorized, ErrMessageTokenMissing)
	}

	if err := s.svc.VerifyToken(token); err != nil {
		return err
	}

	return nil
}

func parseStatusFilter(value string) (*cbreview.Status, error) {
	if value == "" {
		return nil, nil //nolint:nilnil
	}

	status, err := cbreview.ParseStatus(value)
	if err != nil {
		return nil, NewServerError(http.StatusBadRequest, fmt.Sprintf("Unknown review status: %q.", value))
	}

	return &status, nil
}

func newValidate() *validator.Validate {
	validate := validator.New()

	// Report offending fields under their JSON names rather than their Go
	// ones.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}
