package application

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

type BulkOperation string

const (
	BulkAttributeSet       BulkOperation = "ATTRIBUTE_SET"
	BulkRelationshipLink   BulkOperation = "RELATIONSHIP_LINK"
	BulkRelationshipUnlink BulkOperation = "RELATIONSHIP_UNLINK"
	BulkFSMTransition      BulkOperation = "FSM_TRANSITION"

	MaxBulkTargets = 1000
)

type BulkRequest struct {
	Operation BulkOperation  `json:"operation"`
	Targets   []string       `json:"targets"`
	Payload   map[string]any `json:"payload"`
	Force     bool           `json:"force"`
	Reason    string         `json:"reason"`
}

type BulkDetail struct {
	Target   string              `json:"target"`
	Blocking int                 `json:"blocking"`
	Warning  int                 `json:"warning"`
	Info     int                 `json:"info"`
	Report   domain.ImpactReport `json:"report"`
}

type BulkResult struct {
	Operation     BulkOperation `json:"operation"`
	TotalBlocking int           `json:"total_blocking"`
	TotalWarning  int           `json:"total_warning"`
	TotalInfo     int           `json:"total_info"`
	CanCommit     bool          `json:"can_commit"`
	Committed     bool          `json:"committed"`
	Forced        bool          `json:"forced,omitempty"`
	Details       []BulkDetail  `json:"details"`
}

func (r *BulkResult) add(target string, report domain.ImpactReport) {
	r.TotalBlocking += report.Summary.Blocking
	r.TotalWarning += report.Summary.Warning
	r.TotalInfo += report.Summary.Info
	r.CanCommit = r.TotalBlocking == 0
	r.Details = append(r.Details, BulkDetail{
		Target:   target,
		Blocking: report.Summary.Blocking,
		Warning:  report.Summary.Warning,
		Info:     report.Summary.Info,
		Report:   report,
	})
}

var errPreviewRollback = errors.New("bulk preview rollback")

func (r BulkRequest) validate() error {
	switch r.Operation {
	case BulkAttributeSet, BulkRelationshipLink, BulkRelationshipUnlink, BulkFSMTransition:
	default:
		return domain.Validationf("unknown bulk operation %q", r.Operation)
	}
	if len(r.Targets) == 0 {
		return domain.Validationf("at least one target is required")
	}
	if len(r.Targets) > MaxBulkTargets {
		return domain.Validationf("at most %d targets are allowed", MaxBulkTargets)
	}
	seen := make(map[string]struct{}, len(r.Targets))
	for _, t := range r.Targets {
		t = strings.TrimSpace(t)
		if t == "" {
			return domain.Validationf("targets must not be empty")
		}
		if _, dup := seen[t]; dup {
			return domain.Validationf("target %s is listed twice", t)
		}
		seen[t] = struct{}{}
	}
	switch r.Operation {
	case BulkAttributeSet:
		if _, ok := r.Payload["attributes"].(map[string]any); !ok {
			return domain.Validationf("payload.attributes must be an object")
		}
	case BulkRelationshipLink:
		if payloadText(r.Payload, "definition_urn") == "" || payloadText(r.Payload, "to_urn") == "" {
			return domain.Validationf("payload requires definition_urn and to_urn")
		}
	case BulkFSMTransition:
		if payloadText(r.Payload, "action") == "" && payloadText(r.Payload, "state") == "" {
			return domain.Validationf("payload requires action or state")
		}
	}
	return nil
}

func payloadText(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}

// plan maps one bulk target to the change it analyzes and the write it applies.
func (r BulkRequest) plan(target string) (domain.Change, applyFunc) {
	target = strings.TrimSpace(target)
	switch r.Operation {
	case BulkAttributeSet:
		attrs, _ := r.Payload["attributes"].(map[string]any)
		change := entityUpdateChange(target, attrs, true)
		return change, applyEntityUpdate(target, change.Payload)
	case BulkRelationshipLink:
		in := RelationshipInput{
			DefinitionURN: payloadText(r.Payload, "definition_urn"),
			FromURN:       target,
			ToURN:         payloadText(r.Payload, "to_urn"),
		}
		in.Attributes, _ = r.Payload["attributes"].(map[string]any)
		return domain.Change{Type: domain.ChangeRelationshipCreate, TargetURN: target, Payload: relationshipCreatePayload(in)}, applyRelationshipCreate(in)
	case BulkRelationshipUnlink:
		return domain.Change{Type: domain.ChangeRelationshipDelete, TargetURN: target}, applyRelationshipDelete(target)
	default:
		payload := lifecyclePayload(payloadText(r.Payload, "action"), payloadText(r.Payload, "state"))
		return domain.Change{Type: domain.ChangeEntityLifecycleTransition, TargetURN: target, Payload: payload}, applyTransition(target, payload)
	}
}

// PreviewBulk analyzes every target as if the whole batch were applied in
// order. Nothing is persisted.
func (g *Gateway) PreviewBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	return g.runBulk(ctx, CommitOptions{Force: req.Force, Reason: req.Reason}, req, false)
}

// CommitBulk applies every target in one transaction. A blocking impact on any
// target rolls back the batch unless the request is forced with a reason.
func (g *Gateway) CommitBulk(ctx context.Context, opts CommitOptions, req BulkRequest) (BulkResult, error) {
	opts.Force = opts.Force || req.Force
	opts.Reason = defaultString(opts.Reason, req.Reason)
	if err := opts.validate(); err != nil {
		return BulkResult{}, err
	}
	return g.runBulk(ctx, opts, req, true)
}

func (g *Gateway) runBulk(ctx context.Context, opts CommitOptions, req BulkRequest, commit bool) (BulkResult, error) {
	req.Operation = BulkOperation(strings.ToUpper(strings.TrimSpace(string(req.Operation))))
	if err := req.validate(); err != nil {
		return BulkResult{}, err
	}

	ctx, span := g.tracer.Start(ctx, "gateway.bulk", trace.WithAttributes(
		attribute.String("operation", string(req.Operation)),
		attribute.Int("targets", len(req.Targets)),
		attribute.Bool("commit", commit),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	result := BulkResult{Operation: req.Operation, CanCommit: true, Details: make([]BulkDetail, 0, len(req.Targets))}
	var done []applied
	action := "BULK_" + string(req.Operation)

	err := g.repo.WithinTx(ctx, func(ctx context.Context, store domain.Store) error {
		var reports []domain.ImpactReport
		for _, target := range req.Targets {
			change, apply := req.plan(target)
			report, err := g.analyzer.Analyze(ctx, store, change)
			if err != nil {
				return storeFailure(err)
			}
			result.add(strings.TrimSpace(target), report)
			reports = append(reports, report)

			// Later targets are analyzed against the state earlier ones produce.
			if !report.CanCommit && !(commit && opts.Force) {
				continue
			}
			a, err := apply(ctx, store)
			if err != nil {
				if !commit {
					continue
				}
				return storeFailure(err)
			}
			a.payload["impact_summary"] = report.Summary
			done = append(done, a)
		}

		if !commit {
			return errPreviewRollback
		}
		if !result.CanCommit {
			if !opts.Force {
				return blockedError(result, result.TotalBlocking)
			}
			result.Forced = true
		}

		for _, a := range done {
			a.payload["operation"] = req.Operation
			if _, err := store.AppendAuditEvent(ctx, domain.AuditEvent{
				EntityURN: a.entityURN,
				Action:    action,
				ActorURN:  opts.actor(),
				Payload:   encodePayload(a.payload),
			}); err != nil {
				return storeFailure(err)
			}
		}
		if result.Forced {
			if _, err := store.AppendAuditEvent(ctx, domain.AuditEvent{
				EntityURN: strings.TrimSpace(req.Targets[0]),
				Action:    ActionImpactOverrideApplied,
				ActorURN:  opts.actor(),
				Payload: encodePayload(map[string]any{
					"reason":     opts.Reason,
					"operation":  req.Operation,
					"targets":    req.Targets,
					"overridden": blockingImpacts(reports...),
				}),
			}); err != nil {
				return storeFailure(err)
			}
		}
		return nil
	})
	if errors.Is(err, errPreviewRollback) {
		return result, nil
	}
	if err = storeFailure(err); err != nil {
		span.RecordError(err)
		g.logger.Warn("bulk rejected",
			"operation", req.Operation,
			"targets", len(req.Targets),
			"actor", opts.actor(),
			"blocking", result.TotalBlocking,
			"error", err,
		)
		return BulkResult{}, err
	}

	result.Committed = true
	for _, a := range done {
		g.afterCommit(a)
	}
	g.logger.Info("bulk committed",
		"operation", req.Operation,
		"targets", len(req.Targets),
		"actor", opts.actor(),
		"blocking", result.TotalBlocking,
		"forced", result.Forced,
	)
	return result, nil
}
