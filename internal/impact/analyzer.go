// Package impact classifies the consequences of a proposed change. Analysis is
// read-only: it inspects the store it is handed and never writes.
package impact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

type Analyzer struct {
	logger *slog.Logger
	tracer trace.Tracer
}

func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		logger: logger.With("component", "impact"),
		tracer: otel.Tracer("registry/impact"),
	}
}

// inspection carries one analysis: the store, the report being built and the
// URNs read along the way.
type inspection struct {
	ctx     context.Context
	store   domain.Store
	report  *domain.ImpactReport
	visited map[string]struct{}
}

func (in *inspection) touch(urns ...string) {
	for _, urn := range urns {
		if urn != "" {
			in.visited[urn] = struct{}{}
		}
	}
}

func (in *inspection) add(code string, level domain.ImpactLevel, urn, format string, args ...any) {
	in.report.Add(domain.Impact{
		Code:        code,
		Level:       level,
		EntityURN:   urn,
		Description: fmt.Sprintf(format, args...),
	})
}

func (in *inspection) addPath(code string, level domain.ImpactLevel, urn string, path []string, format string, args ...any) {
	in.report.Add(domain.Impact{
		Code:        code,
		Level:       level,
		EntityURN:   urn,
		Description: fmt.Sprintf(format, args...),
		Path:        path,
	})
}

// Analyze builds the impact report for change. Domain problems surface as
// impacts; the error return is reserved for store failures and malformed changes.
func (a *Analyzer) Analyze(ctx context.Context, store domain.Store, change domain.Change) (domain.ImpactReport, error) {
	if !change.Type.Valid() {
		return domain.ImpactReport{}, domain.Validationf("unknown change_type %q", change.Type)
	}
	if strings.TrimSpace(change.TargetURN) == "" {
		return domain.ImpactReport{}, domain.Validationf("target_urn is required")
	}
	if change.Payload == nil {
		change.Payload = map[string]any{}
	}

	ctx, span := a.tracer.Start(ctx, "impact.analyze", trace.WithAttributes(
		attribute.String("change_type", string(change.Type)),
		attribute.String("target", change.TargetURN),
	))
	defer span.End()

	in := &inspection{
		ctx:     ctx,
		store:   store,
		report:  domain.NewImpactReport(change.Type, change.TargetURN),
		visited: map[string]struct{}{},
	}
	in.touch(change.TargetURN)

	var err error
	switch change.Type {
	case domain.ChangeEntityUpdate:
		err = in.entityUpdate(change)
	case domain.ChangeEntityLifecycleTransition:
		err = in.lifecycleTransition(change)
	case domain.ChangeRelationshipCreate:
		err = in.relationshipCreate(change)
	case domain.ChangeRelationshipDelete:
		err = in.relationshipDelete(change.TargetURN)
	case domain.ChangeRelationshipUpdate:
		err = in.relationshipUpdate(change)
	case domain.ChangeAttributeDefinitionUpdate:
		err = in.attributeDefinitionUpdate(change)
	case domain.ChangeFSMDefinitionUpdate:
		err = in.fsmDefinitionUpdate(change)
	}
	if err != nil {
		span.RecordError(err)
		return domain.ImpactReport{}, err
	}

	if len(in.report.Impacts) == 0 {
		in.add(domain.CodeNoImpact, domain.LevelInfo, change.TargetURN, "change has no detectable impact")
	}
	in.report.GraphSnapshotHash = snapshotHash(in.visited)

	span.SetAttributes(
		attribute.Int("blocking", in.report.Summary.Blocking),
		attribute.Int("warning", in.report.Summary.Warning),
	)
	a.logger.Debug("impact analyzed",
		"change_type", change.Type,
		"target", change.TargetURN,
		"blocking", in.report.Summary.Blocking,
		"warning", in.report.Summary.Warning,
		"info", in.report.Summary.Info,
	)
	return *in.report, nil
}

func snapshotHash(visited map[string]struct{}) string {
	urns := make([]string, 0, len(visited))
	for urn := range visited {
		urns = append(urns, urn)
	}
	sort.Strings(urns)
	sum := sha256.Sum256([]byte(strings.Join(urns, "\n")))
	return hex.EncodeToString(sum[:])
}

func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func payloadMap(payload map[string]any, key string) (map[string]any, bool) {
	m, ok := payload[key].(map[string]any)
	return m, ok
}
