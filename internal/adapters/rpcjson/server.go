package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/registry/internal/access"
	"github.com/atvirokodosprendimai/registry/internal/application"
	"github.com/atvirokodosprendimai/registry/internal/domain"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeValidation     = 40000
	CodeUnauthorized   = 40100
	CodeForbidden      = 40300
	CodeNotFound       = 40400
	CodeConflict       = 40900
	CodeInternal       = 50000
)

type Options struct {
	WriteRoles []string
	Logger     *slog.Logger
}

type Server struct {
	service    *application.RegistryService
	gateway    *application.Gateway
	writeRoles []string
	logger     *slog.Logger
	listener   net.Listener
	path       string
	ctx        context.Context
	cancel     context.CancelFunc
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// caller is the identity every call carries in its params.
type caller struct {
	Actor string `json:"actor"`
	Roles string `json:"roles"`
}

func (c caller) user() access.User {
	return access.User{ID: strings.TrimSpace(c.Actor), Roles: access.ParseRoles(c.Roles, domain.DefaultRole)}
}

// Start listens on a unix socket readable only by the owner.
func Start(path string, service *application.RegistryService, gateway *application.Gateway, opts Options) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeRoles := opts.WriteRoles
	if len(writeRoles) == 0 {
		writeRoles = []string{domain.DefaultRole, domain.AdminRole}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		service:    service,
		gateway:    gateway,
		writeRoles: writeRoles,
		logger:     logger.With("component", "rpc"),
		listener:   ln,
		path:       path,
		ctx:        ctx,
		cancel:     cancel,
	}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: CodeParseError, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(s.ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: CodeInvalidRequest, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "schema.get":
		return handle(s, ctx, req, nil, func(ctx context.Context, user access.User, p struct {
			EntityType string `json:"entity_type"`
		}) (any, error) {
			return s.service.GetSchema(ctx, user, p.EntityType)
		})
	case "entities.list":
		return handle(s, ctx, req, nil, func(ctx context.Context, user access.User, p struct {
			Type   string `json:"type"`
			Search string `json:"search"`
			Limit  int    `json:"limit"`
			Offset int    `json:"offset"`
		}) (any, error) {
			return s.service.ListEntities(ctx, user, domain.EntityQuery{TypeURN: p.Type, Search: p.Search, Limit: p.Limit, Offset: p.Offset})
		})
	case "entities.get":
		return handle(s, ctx, req, nil, func(ctx context.Context, user access.User, p struct {
			URN string `json:"urn"`
		}) (any, error) {
			return s.service.GetEntity(ctx, user, p.URN)
		})
	case "entities.create":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			application.CreateEntityInput
			commitParams
		}) (any, error) {
			return s.gateway.CreateEntity(ctx, p.options(user), p.CreateEntityInput)
		})
	case "entities.update", "entities.patch":
		apply := s.gateway.PatchEntity
		if req.Method == "entities.update" {
			apply = s.gateway.UpdateEntity
		}
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			URN        string         `json:"urn"`
			Attributes map[string]any `json:"attributes"`
			commitParams
		}) (any, error) {
			if p.Attributes == nil {
				return nil, domain.Validationf("attributes is required")
			}
			return apply(ctx, p.options(user), p.URN, p.Attributes)
		})
	case "entities.lifecycle":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			URN    string `json:"urn"`
			Action string `json:"action"`
			commitParams
		}) (any, error) {
			return s.gateway.TransitionLifecycle(ctx, p.options(user), p.URN, p.Action)
		})
	case "relationships.list":
		return handle(s, ctx, req, nil, func(ctx context.Context, user access.User, p struct {
			DefinitionURN string `json:"definition_urn"`
			FromURN       string `json:"from_urn"`
			ToURN         string `json:"to_urn"`
			Limit         int    `json:"limit"`
		}) (any, error) {
			return s.service.ListRelationships(ctx, user, domain.RelationshipFilter{DefinitionURN: p.DefinitionURN, FromURN: p.FromURN, ToURN: p.ToURN, Limit: p.Limit})
		})
	case "relationships.create":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			application.RelationshipInput
			commitParams
		}) (any, error) {
			return s.gateway.CreateRelationship(ctx, p.options(user), p.RelationshipInput)
		})
	case "relationships.update":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			ID string `json:"id"`
			application.RelationshipPatch
			commitParams
		}) (any, error) {
			return s.gateway.UpdateRelationship(ctx, p.options(user), p.ID, p.RelationshipPatch)
		})
	case "relationships.delete":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			ID string `json:"id"`
			commitParams
		}) (any, error) {
			return s.gateway.DeleteRelationship(ctx, p.options(user), p.ID)
		})
	case "graph.context":
		return handle(s, ctx, req, nil, func(ctx context.Context, user access.User, p struct {
			URN   string `json:"urn"`
			View  string `json:"view"`
			Depth *int   `json:"depth"`
			Type  string `json:"type"`
		}) (any, error) {
			depth := -1
			if p.Depth != nil {
				depth = *p.Depth
			}
			return s.service.GraphContext(ctx, user, p.URN, application.GraphQuery{View: p.View, Depth: depth, TypeURN: p.Type})
		})
	case "bulk.preview":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, _ access.User, p application.BulkRequest) (any, error) {
			return s.gateway.PreviewBulk(ctx, p)
		})
	case "bulk.commit":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p application.BulkRequest) (any, error) {
			return s.gateway.CommitBulk(ctx, application.CommitOptions{Actor: user.ID}, p)
		})
	case "simulation.diff":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, _ access.User, p application.SimulationRequest) (any, error) {
			return s.service.Simulate(ctx, p)
		})
	case "governance.snapshot":
		return handle(s, ctx, req, nil, func(context.Context, access.User, struct{}) (any, error) {
			return s.service.Snapshot(), nil
		})
	case "governance.projection_map":
		return handle(s, ctx, req, nil, func(ctx context.Context, _ access.User, p struct {
			EntityType string `json:"entity_type"`
			Role       string `json:"role"`
		}) (any, error) {
			return s.service.ProjectionMap(ctx, p.EntityType, p.Role)
		})
	case "audit.list":
		return handle(s, ctx, req, nil, func(ctx context.Context, user access.User, p struct {
			URN   string `json:"urn"`
			Limit int    `json:"limit"`
		}) (any, error) {
			return s.service.ListAuditEvents(ctx, user, p.URN, p.Limit)
		})
	case "definitions.attribute":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			EntityType string         `json:"entity_type"`
			Code       string         `json:"code"`
			Changes    map[string]any `json:"changes"`
			commitParams
		}) (any, error) {
			return s.gateway.UpdateAttributeDefinition(ctx, p.options(user), p.EntityType, p.Code, p.Changes)
		})
	case "definitions.fsm":
		return handle(s, ctx, req, s.writeRoles, func(ctx context.Context, user access.User, p struct {
			URN        string         `json:"urn"`
			Definition map[string]any `json:"definition"`
			commitParams
		}) (any, error) {
			return s.gateway.UpdateFSMDefinition(ctx, p.options(user), p.URN, p.Definition)
		})
	case "bootstrap":
		return handle(s, ctx, req, []string{domain.AdminRole}, func(ctx context.Context, user access.User, _ struct{}) (any, error) {
			return s.gateway.Bootstrap(ctx, application.CommitOptions{Actor: user.ID})
		})
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: CodeMethodNotFound, Message: "method not found"}, ID: req.ID}
	}
}

type commitParams struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

func (c commitParams) options(user access.User) application.CommitOptions {
	return application.CommitOptions{Actor: user.ID, Force: c.Force, Reason: c.Reason}
}

// handle authenticates the caller, checks roles when given, decodes params into
// P and runs fn.
func handle[P any](s *Server, ctx context.Context, req request, roles []string, fn func(context.Context, access.User, P) (any, error)) response {
	var who caller
	if !decodeParams(req.Params, &who) {
		return invalidParams(req.ID)
	}
	user := who.user()
	if user.ID == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: CodeUnauthorized, Message: "unauthorized"}, ID: req.ID}
	}
	if len(roles) > 0 && !user.HasAnyRole(roles) {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: CodeForbidden, Message: "forbidden"}, ID: req.ID}
	}

	var p P
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := fn(ctx, user, p)
	if err != nil {
		return s.appError(req, err)
	}
	return response{JSONRPC: "2.0", Result: out, ID: req.ID}
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: CodeInvalidParams, Message: "invalid params"}, ID: id}
}

// CodeFor maps a domain error onto an RPC error code.
func CodeFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return CodeValidation
	case domain.IsNotFound(err):
		return CodeNotFound
	case domain.IsSecurityViolation(err):
		return CodeForbidden
	case domain.IsConflict(err):
		return CodeConflict
	default:
		return CodeInternal
	}
}

func (s *Server) appError(req request, err error) response {
	e := &rpcError{Code: CodeFor(err), Message: err.Error()}
	if e.Code == CodeInternal {
		s.logger.Error("rpc call failed", "method", req.Method, "error", err)
		e.Message = "internal error"
	}
	if report, ok := domain.ReportOf(err); ok {
		e.Data = report
	}
	return response{JSONRPC: "2.0", Error: e, ID: req.ID}
}
