package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/atvirokodosprendimai/registry/internal/application"
	"github.com/atvirokodosprendimai/registry/internal/domain"
)

type commitFlags struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// dispatch sends an operation over the configured transport. rpcParams is
// flattened into the JSON-RPC params object.
func dispatch(ctx context.Context, cfg cliConfig, rpcMethod string, rpcParams any, httpMethod, path string, body any, out any) error {
	if cfg.Transport == "uds" {
		params, err := toParams(rpcParams)
		if err != nil {
			return err
		}
		return newRPCClient(cfg).call(ctx, rpcMethod, params, out)
	}
	return newAPIClient(cfg).request(ctx, httpMethod, path, body, out)
}

func toParams(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func withQuery(path string, q url.Values) string {
	if encoded := q.Encode(); encoded != "" {
		return path + "?" + encoded
	}
	return path
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func doSchemaGet(ctx context.Context, cfg cliConfig, entityType string, out any) error {
	return dispatch(ctx, cfg, "schema.get", map[string]any{"entity_type": entityType},
		http.MethodGet, "/api/schema/"+url.PathEscape(entityType), nil, out)
}

func doEntitiesList(ctx context.Context, cfg cliConfig, query domain.EntityQuery, out any) error {
	q := url.Values{}
	setString(q, "type", query.TypeURN)
	setString(q, "search", query.Search)
	setInt(q, "limit", query.Limit)
	setInt(q, "offset", query.Offset)
	params := map[string]any{"type": query.TypeURN, "search": query.Search, "limit": query.Limit, "offset": query.Offset}
	return dispatch(ctx, cfg, "entities.list", params, http.MethodGet, withQuery("/api/entities", q), nil, out)
}

func doEntityGet(ctx context.Context, cfg cliConfig, urn string, out any) error {
	return dispatch(ctx, cfg, "entities.get", map[string]any{"urn": urn},
		http.MethodGet, "/api/entities/"+url.PathEscape(urn), nil, out)
}

func doEntityCreate(ctx context.Context, cfg cliConfig, in application.CreateEntityInput, commit commitFlags, out any) error {
	body := struct {
		application.CreateEntityInput
		commitFlags
	}{in, commit}
	return dispatch(ctx, cfg, "entities.create", body, http.MethodPost, "/api/entities", body, out)
}

// doEntityUpdate merges attributes, or replaces the whole map when replace is
// set.
func doEntityUpdate(ctx context.Context, cfg cliConfig, urn string, attributes map[string]any, replace bool, commit commitFlags, out any) error {
	method, httpMethod := "entities.patch", http.MethodPatch
	if replace {
		method, httpMethod = "entities.update", http.MethodPut
	}
	body := struct {
		Attributes map[string]any `json:"attributes"`
		commitFlags
	}{attributes, commit}
	params := struct {
		URN        string         `json:"urn"`
		Attributes map[string]any `json:"attributes"`
		commitFlags
	}{urn, attributes, commit}
	return dispatch(ctx, cfg, method, params, httpMethod, "/api/entities/"+url.PathEscape(urn), body, out)
}

func doEntityLifecycle(ctx context.Context, cfg cliConfig, urn, action string, commit commitFlags, out any) error {
	body := struct {
		Action string `json:"action"`
		commitFlags
	}{action, commit}
	params := struct {
		URN    string `json:"urn"`
		Action string `json:"action"`
		commitFlags
	}{urn, action, commit}
	return dispatch(ctx, cfg, "entities.lifecycle", params, http.MethodPost, "/api/entities/"+url.PathEscape(urn)+"/lifecycle", body, out)
}

func doRelationshipsList(ctx context.Context, cfg cliConfig, filter domain.RelationshipFilter, out any) error {
	q := url.Values{}
	setString(q, "definition_urn", filter.DefinitionURN)
	setString(q, "from_urn", filter.FromURN)
	setString(q, "to_urn", filter.ToURN)
	setInt(q, "limit", filter.Limit)
	params := map[string]any{"definition_urn": filter.DefinitionURN, "from_urn": filter.FromURN, "to_urn": filter.ToURN, "limit": filter.Limit}
	return dispatch(ctx, cfg, "relationships.list", params, http.MethodGet, withQuery("/api/relationships", q), nil, out)
}

func doRelationshipCreate(ctx context.Context, cfg cliConfig, in application.RelationshipInput, commit commitFlags, out any) error {
	body := struct {
		application.RelationshipInput
		commitFlags
	}{in, commit}
	return dispatch(ctx, cfg, "relationships.create", body, http.MethodPost, "/api/relationships", body, out)
}

func doRelationshipDelete(ctx context.Context, cfg cliConfig, id string, commit commitFlags, out any) error {
	q := url.Values{}
	if commit.Force {
		q.Set("force", "true")
	}
	setString(q, "reason", commit.Reason)
	params := struct {
		ID string `json:"id"`
		commitFlags
	}{id, commit}
	return dispatch(ctx, cfg, "relationships.delete", params, http.MethodDelete, withQuery("/api/relationships/"+url.PathEscape(id), q), nil, out)
}

func doGraphContext(ctx context.Context, cfg cliConfig, urn string, query application.GraphQuery, out any) error {
	q := url.Values{}
	setString(q, "view", query.View)
	setString(q, "type", query.TypeURN)
	params := map[string]any{"urn": urn, "view": query.View, "type": query.TypeURN}
	if query.Depth >= 0 {
		q.Set("depth", strconv.Itoa(query.Depth))
		params["depth"] = query.Depth
	}
	return dispatch(ctx, cfg, "graph.context", params, http.MethodGet, withQuery("/api/graph/context/"+url.PathEscape(urn), q), nil, out)
}

func doBulkPreview(ctx context.Context, cfg cliConfig, req application.BulkRequest, out any) error {
	return dispatch(ctx, cfg, "bulk.preview", req, http.MethodPost, "/api/bulk/impact/preview", req, out)
}

func doBulkCommit(ctx context.Context, cfg cliConfig, req application.BulkRequest, out any) error {
	return dispatch(ctx, cfg, "bulk.commit", req, http.MethodPost, "/api/bulk/commit", req, out)
}

func doSimulate(ctx context.Context, cfg cliConfig, req application.SimulationRequest, out any) error {
	return dispatch(ctx, cfg, "simulation.diff", req, http.MethodPost, "/api/simulation/diff", req, out)
}

func doGovernanceSnapshot(ctx context.Context, cfg cliConfig, out any) error {
	return dispatch(ctx, cfg, "governance.snapshot", nil, http.MethodGet, "/api/governance/snapshot", nil, out)
}

func doProjectionMap(ctx context.Context, cfg cliConfig, entityType, role string, out any) error {
	q := url.Values{}
	setString(q, "entity_type", entityType)
	setString(q, "role", role)
	params := map[string]any{"entity_type": entityType, "role": role}
	return dispatch(ctx, cfg, "governance.projection_map", params, http.MethodGet, withQuery("/api/governance/projection-map", q), nil, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, urn string, limit int, out any) error {
	q := url.Values{}
	setInt(q, "limit", limit)
	params := map[string]any{"urn": urn, "limit": limit}
	return dispatch(ctx, cfg, "audit.list", params, http.MethodGet, withQuery("/api/entities/"+url.PathEscape(urn)+"/audit", q), nil, out)
}

func doBootstrap(ctx context.Context, cfg cliConfig, out any) error {
	return dispatch(ctx, cfg, "bootstrap", nil, http.MethodPost, "/api/bootstrap", nil, out)
}
