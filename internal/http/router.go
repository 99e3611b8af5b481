package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitpress/gitpress/internal/auth"
	"github.com/gitpress/gitpress/internal/content"
	"github.com/gitpress/gitpress/internal/dbedit"
	"github.com/gitpress/gitpress/internal/deploy"
	"github.com/gitpress/gitpress/internal/domain"
	"github.com/gitpress/gitpress/internal/gitx"
	"github.com/gitpress/gitpress/internal/repository"
	"github.com/gitpress/gitpress/internal/site"
	"github.com/gitpress/gitpress/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	sites    site.Service
	deploy   *deploy.Service
	content  content.Service
	tables   dbedit.Service
	git      *gitx.Synchronizer
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	maxUploadBytes     = 64 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, siteSvc site.Service, deploySvc *deploy.Service, contentSvc content.Service, tableSvc dbedit.Service, git *gitx.Synchronizer, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		sites:   siteSvc,
		deploy:  deploySvc,
		content: contentSvc,
		tables:  tableSvc,
		git:     git,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/sites", r.audit("/sites", r.handlerAuthRate("/sites", rateLimitUserWrite, rateWindowDefault, r.handleSites)))
	r.mux.HandleFunc("/sites/", r.audit("/sites/", r.handlerAuthRate("/sites/", rateLimitUserWrite, rateWindowDefault, r.handleSiteSubroutes)))
	r.mux.HandleFunc("/deployments", r.audit("/deployments", r.handlerAuthRate("/deployments", rateLimitUserRead, rateWindowDefault, r.handleDeploymentList)))
	r.mux.HandleFunc("/deployments/", r.audit("/deployments/", r.handlerAuthRate("/deployments/", rateLimitUserRead, rateWindowDefault, r.handleDeploymentStatus)))
	r.mux.HandleFunc("/ws/deployments", r.audit("/ws/deployments", r.handlerAuthRate("/ws/deployments", rateLimitWebsocket, rateWindowRealtime, r.handleDeploymentWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Signup(req.Context(), payload.Username, payload.Password, payload.DisplayName, payload.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func sessionPayload(session auth.Session) map[string]any {
	return map[string]any{
		"token":      session.Token,
		"expires_in": int(session.ExpiresIn.Seconds()),
		"user": map[string]any{
			"id":           session.User.ID,
			"username":     session.User.Username,
			"display_name": session.User.DisplayName,
			"email":        session.User.Email,
		},
	}
}

// siteView is the external shape of a site; credentials never leave the server.
type siteView struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RepositoryURL   string    `json:"repository_url"`
	BuildCommand    string    `json:"build_command,omitempty"`
	BuildOutputDir  string    `json:"build_output_dir,omitempty"`
	ValidateCommand string    `json:"validate_command,omitempty"`
	EditablePaths   []string  `json:"editable_paths,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toSiteView(s domain.Site) siteView {
	return siteView{
		ID:              s.ID,
		Name:            s.Name,
		RepositoryURL:   s.RepositoryURL,
		BuildCommand:    s.BuildCommand,
		BuildOutputDir:  s.BuildOutputDir,
		ValidateCommand: s.ValidateCommand,
		EditablePaths:   s.EditablePaths,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (r *Router) handleSites(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name            string   `json:"name"`
			RepositoryURL   string   `json:"repository_url"`
			PAT             string   `json:"pat"`
			BuildCommand    string   `json:"build_command"`
			BuildOutputDir  string   `json:"build_output_dir"`
			ValidateCommand string   `json:"validate_command"`
			EditablePaths   []string `json:"editable_paths"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.sites.Create(req.Context(), site.CreateInput{
			Name:            payload.Name,
			RepositoryURL:   payload.RepositoryURL,
			PAT:             payload.PAT,
			BuildCommand:    payload.BuildCommand,
			BuildOutputDir:  payload.BuildOutputDir,
			ValidateCommand: payload.ValidateCommand,
			EditablePaths:   payload.EditablePaths,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toSiteView(created))
	case http.MethodGet:
		sites, err := r.sites.List(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]siteView, 0, len(sites))
		for _, s := range sites {
			views = append(views, toSiteView(s))
		}
		writeJSON(w, http.StatusOK, views)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSiteSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/sites/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	siteID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		r.handleSite(w, req, siteID)
		return
	}
	switch rest[0] {
	case "deployments":
		if len(rest) == 1 {
			r.handleSiteDeployments(w, req, siteID)
			return
		}
	case "validate":
		if len(rest) == 1 {
			r.handleSiteValidate(w, req, siteID)
			return
		}
	case "repository":
		if len(rest) == 1 {
			r.handleSiteRepository(w, req, siteID)
			return
		}
		if len(rest) == 2 && rest[1] == "sync" {
			r.handleSiteRepositorySync(w, req, siteID)
			return
		}
	case "files":
		if len(rest) >= 2 {
			r.handleSiteFile(w, req, siteID, strings.Join(rest[1:], "/"))
			return
		}
	case "assets":
		if len(rest) >= 2 {
			r.handleSiteAsset(w, req, siteID, strings.Join(rest[1:], "/"))
			return
		}
	case "tables":
		r.handleSiteTables(w, req, siteID, rest[1:])
		return
	}
	r.notFound(w)
}

func (r *Router) handleSite(w http.ResponseWriter, req *http.Request, siteID string) {
	switch req.Method {
	case http.MethodGet:
		loaded, ok := r.loadSite(w, req, siteID)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toSiteView(loaded))
	case http.MethodPut:
		var payload struct {
			Name            *string  `json:"name"`
			RepositoryURL   *string  `json:"repository_url"`
			PAT             string   `json:"pat"`
			BuildCommand    *string  `json:"build_command"`
			BuildOutputDir  *string  `json:"build_output_dir"`
			ValidateCommand *string  `json:"validate_command"`
			EditablePaths   []string `json:"editable_paths"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.sites.Update(req.Context(), siteID, site.UpdateInput{
			Name:            payload.Name,
			RepositoryURL:   payload.RepositoryURL,
			PAT:             payload.PAT,
			BuildCommand:    payload.BuildCommand,
			BuildOutputDir:  payload.BuildOutputDir,
			ValidateCommand: payload.ValidateCommand,
			EditablePaths:   payload.EditablePaths,
		})
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSiteView(updated))
	case http.MethodDelete:
		if err := r.sites.Delete(req.Context(), siteID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSiteDeployments(w http.ResponseWriter, req *http.Request, siteID string) {
	switch req.Method {
	case http.MethodPost:
		loaded, ok := r.loadSite(w, req, siteID)
		if !ok {
			return
		}
		info, _ := authInfoFromContext(req.Context())
		taskID, err := r.deploy.Trigger(loaded, info.Username)
		if err != nil {
			if errors.Is(err, deploy.ErrDeploymentInFlight) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status, err := r.deploy.Status(taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, status)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.deploy.List(siteID))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	taskID := strings.TrimPrefix(req.URL.Path, "/deployments/")
	if taskID == "" || strings.Contains(taskID, "/") {
		r.notFound(w)
		return
	}
	status, err := r.deploy.Status(taskID)
	if err != nil {
		if errors.Is(err, deploy.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleDeploymentList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.deploy.List(req.URL.Query().Get("site_id")))
}

func (r *Router) handleSiteValidate(w http.ResponseWriter, req *http.Request, siteID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	loaded, ok := r.loadSite(w, req, siteID)
	if !ok {
		return
	}
	result, err := r.deploy.Validate(req.Context(), loaded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleSiteRepository(w http.ResponseWriter, req *http.Request, siteID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	loaded, ok := r.loadSite(w, req, siteID)
	if !ok {
		return
	}
	status, err := r.git.Status(req.Context(), loaded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleSiteRepositorySync(w http.ResponseWriter, req *http.Request, siteID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	loaded, ok := r.loadSite(w, req, siteID)
	if !ok {
		return
	}
	result := r.git.Initialize(req.Context(), loaded)
	code := http.StatusOK
	if !result.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, result)
}

func (r *Router) handleSiteFile(w http.ResponseWriter, req *http.Request, siteID, relPath string) {
	loaded, ok := r.loadSite(w, req, siteID)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		data, err := r.content.ReadFile(loaded, relPath)
		if err != nil {
			r.writeContentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": relPath, "content": string(data)})
	case http.MethodPut:
		var payload struct {
			Content string `json:"content"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := r.content.WriteFile(req.Context(), loaded, relPath, []byte(payload.Content), payload.Message, r.commitAuthor(req))
		if err != nil {
			r.writeContentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodDelete:
		result, err := r.content.DeleteFile(req.Context(), loaded, relPath, "", r.commitAuthor(req))
		if err != nil {
			r.writeContentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSiteAsset(w http.ResponseWriter, req *http.Request, siteID, relPath string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	loaded, ok := r.loadSite(w, req, siteID)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	result, err := r.content.UploadAsset(req.Context(), loaded, relPath, data, r.commitAuthor(req))
	if err != nil {
		r.writeContentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (r *Router) handleSiteTables(w http.ResponseWriter, req *http.Request, siteID string, rest []string) {
	loaded, ok := r.loadSite(w, req, siteID)
	if !ok {
		return
	}
	if len(rest) == 0 || rest[0] == "" {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tables": r.tables.Tables()})
		return
	}
	table := rest[0]
	if len(rest) >= 2 && rest[1] == "rows" {
		switch {
		case len(rest) == 2:
			r.handleTableRows(w, req, loaded, table)
			return
		case len(rest) == 3:
			rowID, err := strconv.ParseInt(rest[2], 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid row id")
				return
			}
			r.handleTableRow(w, req, loaded, table, rowID)
			return
		}
	}
	r.notFound(w)
}

func (r *Router) handleTableRows(w http.ResponseWriter, req *http.Request, loaded domain.Site, table string) {
	switch req.Method {
	case http.MethodGet:
		dbPath := req.URL.Query().Get("db")
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		rows, err := r.tables.ListRows(req.Context(), loaded, dbPath, table, limit, offset)
		if err != nil {
			r.writeTableError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
	case http.MethodPost:
		var payload struct {
			DB     string         `json:"db"`
			Values map[string]any `json:"values"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := r.tables.InsertRow(req.Context(), loaded, payload.DB, table, payload.Values, r.commitAuthor(req))
		if err != nil {
			r.writeTableError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTableRow(w http.ResponseWriter, req *http.Request, loaded domain.Site, table string, rowID int64) {
	switch req.Method {
	case http.MethodPut:
		var payload struct {
			DB     string         `json:"db"`
			Values map[string]any `json:"values"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := r.tables.UpdateRow(req.Context(), loaded, payload.DB, table, rowID, payload.Values, r.commitAuthor(req))
		if err != nil {
			r.writeTableError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodDelete:
		dbPath := req.URL.Query().Get("db")
		result, err := r.tables.DeleteRow(req.Context(), loaded, dbPath, table, rowID, r.commitAuthor(req))
		if err != nil {
			r.writeTableError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for deployment websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	taskID := req.URL.Query().Get("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(taskID, client)
	go func() {
		defer func() {
			r.hub.Unregister(taskID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// loadSite fetches the site or writes the appropriate error response.
func (r *Router) loadSite(w http.ResponseWriter, req *http.Request, siteID string) (domain.Site, bool) {
	loaded, err := r.sites.Get(req.Context(), siteID)
	if err != nil {
		r.writeRepoError(w, err)
		return domain.Site{}, false
	}
	return loaded, true
}

func (r *Router) commitAuthor(req *http.Request) domain.Author {
	info, _ := authInfoFromContext(req.Context())
	return domain.Author{Name: info.Username, Email: info.Email}
}

func (r *Router) writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "site not found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (r *Router) writeContentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, content.ErrPathOutsideTree), errors.Is(err, content.ErrPathNotEditable):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) writeTableError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dbedit.ErrTableNotAllowed), errors.Is(err, dbedit.ErrColumnNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, dbedit.ErrRowNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, content.ErrPathOutsideTree), errors.Is(err, content.ErrPathNotEditable):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
