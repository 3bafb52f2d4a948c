package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atvirokodosprendimai/registry/internal/access"
	"github.com/atvirokodosprendimai/registry/internal/application"
	"github.com/atvirokodosprendimai/registry/internal/domain"
)

const (
	ActorHeader = "X-Registry-Actor"
	RolesHeader = "X-Registry-Roles"
)

type contextKey string

const identityKey contextKey = "identity"

// Options configure the router. WriteRoles lists the roles allowed to call
// mutating endpoints.
type Options struct {
	WriteRoles []string
	Logger     *slog.Logger
}

type Handler struct {
	service    *application.RegistryService
	gateway    *application.Gateway
	writeRoles []string
	logger     *slog.Logger
}

func NewRouter(service *application.RegistryService, gateway *application.Gateway, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeRoles := opts.WriteRoles
	if len(writeRoles) == 0 {
		writeRoles = []string{domain.DefaultRole, domain.AdminRole}
	}
	h := &Handler{service: service, gateway: gateway, writeRoles: writeRoles, logger: logger.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rules_version": h.service.Snapshot().Version})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(h.identify)

		api.Get("/schema/{entityTypeURN}", h.handleGetSchema)
		api.Get("/entities", h.handleListEntities)
		api.Get("/entities/{urn}", h.handleGetEntity)
		api.Get("/entities/{urn}/audit", h.handleListAudit)
		api.Get("/graph/context/{urn}", h.handleGraphContext)
		api.Get("/relationships", h.handleListRelationships)
		api.Get("/governance/snapshot", h.handleSnapshot)
		api.Get("/governance/projection-map", h.handleProjectionMap)

		api.Group(func(write chi.Router) {
			write.Use(h.requireRoles(h.writeRoles))
			write.Post("/entities", h.handleCreateEntity)
			write.Put("/entities/{urn}", h.handleReplaceEntity)
			write.Patch("/entities/{urn}", h.handlePatchEntity)
			write.Post("/entities/{urn}/lifecycle", h.handleLifecycle)
			write.Post("/relationships", h.handleCreateRelationship)
			write.Patch("/relationships/{id}", h.handleUpdateRelationship)
			write.Delete("/relationships/{id}", h.handleDeleteRelationship)
			write.Post("/bulk/impact/preview", h.handleBulkPreview)
			write.Post("/bulk/commit", h.handleBulkCommit)
			write.Post("/simulation/diff", h.handleSimulate)
			write.Put("/definitions/attributes/{entityTypeURN}/{code}", h.handleUpdateAttributeDefinition)
			write.Put("/definitions/fsm/{fsmURN}", h.handleUpdateFSMDefinition)
		})
		api.With(h.requireRoles([]string{domain.AdminRole})).Post("/bootstrap", h.handleBootstrap)
	})

	return r
}

// identify reads the caller injected by the upstream gateway.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		user := access.User{ID: actor, Roles: access.ParseRoles(r.Header.Get(RolesHeader), domain.DefaultRole)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, user)))
	})
}

func (h *Handler) requireRoles(roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !userFromContext(r.Context()).HasAnyRole(roles) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userFromContext(ctx context.Context) access.User {
	user, _ := ctx.Value(identityKey).(access.User)
	return user
}

type commitFields struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

func (c commitFields) options(r *http.Request) application.CommitOptions {
	return application.CommitOptions{Actor: userFromContext(r.Context()).ID, Force: c.Force, Reason: c.Reason}
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetSchema(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "entityTypeURN"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.service.ListEntities(r.Context(), userFromContext(r.Context()), domain.EntityQuery{
		TypeURN: q.Get("type"),
		Search:  q.Get("search"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetEntity(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "urn"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.service.ListAuditEvents(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "urn"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleGraphContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	depth, err := queryInt(q.Get("depth"), "depth", -1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	g, err := h.service.GraphContext(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "urn"), application.GraphQuery{
		View:    q.Get("view"),
		Depth:   depth,
		TypeURN: q.Get("type"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.service.ListRelationships(r.Context(), userFromContext(r.Context()), domain.RelationshipFilter{
		DefinitionURN: q.Get("definition_urn"),
		FromURN:       q.Get("from_urn"),
		ToURN:         q.Get("to_urn"),
		Limit:         limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

func (h *Handler) handleProjectionMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pm, err := h.service.ProjectionMap(r.Context(), q.Get("entity_type"), q.Get("role"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

type createEntityRequest struct {
	application.CreateEntityInput
	commitFields
}

func (h *Handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.gateway.CreateEntity(r.Context(), req.options(r), req.CreateEntityInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type updateEntityRequest struct {
	Attributes map[string]any `json:"attributes"`
	commitFields
}

func (h *Handler) handleReplaceEntity(w http.ResponseWriter, r *http.Request) {
	h.updateEntity(w, r, h.gateway.UpdateEntity)
}

func (h *Handler) handlePatchEntity(w http.ResponseWriter, r *http.Request) {
	h.updateEntity(w, r, h.gateway.PatchEntity)
}

func (h *Handler) updateEntity(w http.ResponseWriter, r *http.Request, apply func(context.Context, application.CommitOptions, string, map[string]any) (application.Mutation, error)) {
	var req updateEntityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Attributes == nil {
		h.writeError(w, r, domain.Validationf("attributes is required"))
		return
	}
	m, err := apply(r.Context(), req.options(r), chi.URLParam(r, "urn"), req.Attributes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type lifecycleRequest struct {
	Action string `json:"action"`
	commitFields
}

func (h *Handler) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.gateway.TransitionLifecycle(r.Context(), req.options(r), chi.URLParam(r, "urn"), req.Action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type createRelationshipRequest struct {
	application.RelationshipInput
	commitFields
}

func (h *Handler) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.gateway.CreateRelationship(r.Context(), req.options(r), req.RelationshipInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type updateRelationshipRequest struct {
	application.RelationshipPatch
	commitFields
}

func (h *Handler) handleUpdateRelationship(w http.ResponseWriter, r *http.Request) {
	var req updateRelationshipRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.gateway.UpdateRelationship(r.Context(), req.options(r), chi.URLParam(r, "id"), req.RelationshipPatch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	force, err := queryBool(q.Get("force"), "force")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	opts := commitFields{Force: force, Reason: q.Get("reason")}.options(r)
	m, err := h.gateway.DeleteRelationship(r.Context(), opts, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleBulkPreview(w http.ResponseWriter, r *http.Request) {
	var req application.BulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.gateway.PreviewBulk(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBulkCommit(w http.ResponseWriter, r *http.Request) {
	var req application.BulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	opts := application.CommitOptions{Actor: userFromContext(r.Context()).ID}
	result, err := h.gateway.CommitBulk(r.Context(), opts, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req application.SimulationRequest
	if !h.decode(w, r, &req) {
		return
	}
	diff, err := h.service.Simulate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	result, err := h.gateway.Bootstrap(r.Context(), application.CommitOptions{Actor: userFromContext(r.Context()).ID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type definitionRequest struct {
	Changes    map[string]any `json:"changes"`
	Definition map[string]any `json:"definition"`
	commitFields
}

func (h *Handler) handleUpdateAttributeDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Changes) == 0 {
		h.writeError(w, r, domain.Validationf("changes is required"))
		return
	}
	m, err := h.gateway.UpdateAttributeDefinition(r.Context(), req.options(r), chi.URLParam(r, "entityTypeURN"), chi.URLParam(r, "code"), req.Changes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleUpdateFSMDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Definition == nil {
		h.writeError(w, r, domain.Validationf("definition is required"))
		return
	}
	m, err := h.gateway.UpdateFSMDefinition(r.Context(), req.options(r), chi.URLParam(r, "fsmURN"), req.Definition)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return false
	}
	return true
}

func queryInt(raw, field string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("invalid %s", field)
	}
	return v, nil
}

func queryBool(raw, field string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.Validationf("invalid %s", field)
	}
	return v, nil
}

// StatusFor maps a domain error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsSecurityViolation(err):
		return http.StatusForbidden
	case domain.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := map[string]any{"error": err.Error()}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		body["error"] = "internal error"
	}
	if report, ok := domain.ReportOf(err); ok {
		if status == http.StatusConflict {
			body["impact_report"] = report
		} else {
			body["details"] = report
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
