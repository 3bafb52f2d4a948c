package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/registry/internal/application"
	"github.com/atvirokodosprendimai/registry/internal/domain"
	"github.com/atvirokodosprendimai/registry/internal/rules"
	"github.com/atvirokodosprendimai/registry/internal/schema"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

// formatAttributes renders an attribute map as sorted key=value pairs.
func formatAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
	}
	return strings.Join(parts, " ")
}

func printSchema(s schema.Schema) {
	printKV([][2]string{
		{"entity_type", s.EntityTypeURN},
		{"name", s.Name},
		{"domain", s.Domain},
		{"lifecycle_fsm", s.LifecycleFSMURN},
	})
	fmt.Println()

	attrs := make([][]string, 0, len(s.Attributes))
	for _, a := range s.Attributes {
		attrs = append(attrs, []string{
			a.Code,
			string(a.DataType),
			strconv.FormatBool(a.IsRequired),
			strconv.FormatBool(a.IsUnique),
			strconv.FormatBool(a.IsArray),
		})
	}
	printTable([]string{"ATTRIBUTE", "TYPE", "REQUIRED", "UNIQUE", "ARRAY"}, attrs)
	fmt.Println()

	rels := make([][]string, 0, len(s.Relationships))
	for _, r := range s.Relationships {
		rels = append(rels, []string{r.Code, r.TargetEntityTypeURN, string(r.Cardinality), strconv.FormatBool(r.IsRequired)})
	}
	printTable([]string{"RELATIONSHIP", "TARGET", "CARDINALITY", "REQUIRED"}, rels)

	if len(s.Views) == 0 {
		return
	}
	fmt.Println()
	names := make([]string, 0, len(s.Views))
	for name := range s.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	views := make([][]string, 0, len(names))
	for _, name := range names {
		v := s.Views[name]
		views = append(views, []string{name, formatList(v.Nodes), formatList(v.Edges), strconv.Itoa(v.Depth)})
	}
	printTable([]string{"VIEW", "NODES", "EDGES", "DEPTH"}, views)
}

func printEntities(page domain.EntityPage) {
	rows := make([][]string, 0, len(page.Data))
	for _, item := range page.Data {
		rows = append(rows, []string{item.URN, item.EntityTypeURN, item.FSMState, formatTime(item.UpdatedAt)})
	}
	printTable([]string{"URN", "TYPE", "STATE", "UPDATED_AT"}, rows)
	fmt.Printf("total: %d\n", page.Total)
}

func printEntity(e domain.Entity) {
	printKV([][2]string{
		{"urn", e.URN},
		{"type", e.EntityTypeURN},
		{"state", e.FSMState},
		{"attributes", formatAttributes(e.Attributes)},
		{"created_at", formatTime(e.CreatedAt)},
		{"updated_at", formatTime(e.UpdatedAt)},
	})
}

func printEntityView(view application.EntityView) {
	printEntity(view.Entity)
	fmt.Println()
	fmt.Println("outgoing:")
	printRelationships(view.Outgoing)
	fmt.Println()
	fmt.Println("incoming:")
	printRelationships(view.Incoming)
}

func printRelationships(items []domain.RelationshipSummary) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.ID, item.DefinitionCode, item.FromURN, item.ToURN})
	}
	printTable([]string{"ID", "DEFINITION", "FROM", "TO"}, rows)
}

func printImpactReport(r domain.ImpactReport) {
	printKV([][2]string{
		{"change", string(r.ChangeType)},
		{"target", r.TargetURN},
		{"can_commit", strconv.FormatBool(r.CanCommit)},
		{"summary", fmt.Sprintf("blocking=%d warning=%d info=%d", r.Summary.Blocking, r.Summary.Warning, r.Summary.Info)},
		{"snapshot", r.GraphSnapshotHash},
	})
	rows := make([][]string, 0, len(r.Impacts))
	for _, impact := range r.Impacts {
		rows = append(rows, []string{string(impact.Level), impact.Code, impact.EntityURN, impact.Description})
	}
	fmt.Println()
	printTable([]string{"LEVEL", "CODE", "ENTITY", "DESCRIPTION"}, rows)
}

func printMutation(m application.Mutation) {
	switch {
	case m.Entity != nil:
		printEntity(*m.Entity)
	case m.Relationship != nil:
		printKV([][2]string{
			{"id", m.Relationship.ID},
			{"definition", m.Relationship.DefinitionURN},
			{"from", m.Relationship.FromURN},
			{"to", m.Relationship.ToURN},
		})
	}
	if m.Forced {
		fmt.Println("forced: blocking impacts were overridden")
	}
	fmt.Println()
	printImpactReport(m.Report)
}

func printGraph(g domain.Graph) {
	printKV([][2]string{{"root", g.Root}, {"view", g.View}, {"depth", strconv.Itoa(g.Depth)}})
	fmt.Println()
	nodes := make([][]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, []string{strconv.Itoa(n.Depth), n.URN, n.EntityTypeURN, n.FSMState})
	}
	printTable([]string{"DEPTH", "URN", "TYPE", "STATE"}, nodes)
	fmt.Println()
	edges := make([][]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, []string{e.DefinitionCode, e.FromURN, e.ToURN})
	}
	printTable([]string{"EDGE", "FROM", "TO"}, edges)
}

func printBulkResult(r application.BulkResult) {
	printKV([][2]string{
		{"operation", string(r.Operation)},
		{"can_commit", strconv.FormatBool(r.CanCommit)},
		{"committed", strconv.FormatBool(r.Committed)},
		{"forced", strconv.FormatBool(r.Forced)},
		{"summary", fmt.Sprintf("blocking=%d warning=%d info=%d", r.TotalBlocking, r.TotalWarning, r.TotalInfo)},
	})
	rows := make([][]string, 0, len(r.Details))
	for _, d := range r.Details {
		codes := make([]string, 0, len(d.Report.Impacts))
		for _, impact := range d.Report.Impacts {
			if impact.Level != domain.LevelInfo {
				codes = append(codes, impact.Code)
			}
		}
		rows = append(rows, []string{d.Target, strconv.Itoa(d.Blocking), strconv.Itoa(d.Warning), strconv.Itoa(d.Info), formatList(codes)})
	}
	fmt.Println()
	printTable([]string{"TARGET", "BLOCKING", "WARNING", "INFO", "CODES"}, rows)
}

func printSimulationDiff(d application.SimulationDiff) {
	printKV([][2]string{
		{"entity_type", d.EntityTypeURN},
		{"role", d.Role},
		{"newly_hidden_attributes", formatList(d.NewlyHiddenAttributes)},
		{"newly_revealed_attributes", formatList(d.NewlyRevealedAttributes)},
		{"newly_hidden_relationships", formatList(d.NewlyHiddenRelationships)},
		{"newly_revealed_relationships", formatList(d.NewlyRevealedRelationships)},
	})
}

func printSnapshot(s application.RuleSnapshot) {
	printKV([][2]string{
		{"version", s.Version},
		{"checksum", s.Checksum},
		{"loaded_at", formatTime(s.LoadedAt)},
		{"rules", strconv.Itoa(s.Count)},
	})
	printRules(s.Rules)
}

func printRules(list []rules.VisibilityRule) {
	rows := make([][]string, 0, len(list))
	for i, r := range list {
		rows = append(rows, []string{strconv.Itoa(i), string(r.Scope), r.TargetPattern, r.RoleCondition, string(r.Effect)})
	}
	fmt.Println()
	printTable([]string{"#", "SCOPE", "TARGET", "ROLES", "EFFECT"}, rows)
}

func printProjectionMap(pm application.ProjectionMap) {
	fmt.Printf("role: %s\n\n", pm.Role)
	rows := make([][]string, 0, len(pm.Types))
	for _, t := range pm.Types {
		rows = append(rows, []string{
			t.EntityTypeURN,
			formatList(t.VisibleAttributes),
			formatList(t.HiddenAttributes),
			formatList(t.VisibleRelationships),
			formatList(t.HiddenRelationships),
			formatList(t.VisibleViews),
		})
	}
	printTable([]string{"TYPE", "VISIBLE_ATTRS", "HIDDEN_ATTRS", "VISIBLE_RELS", "HIDDEN_RELS", "VIEWS"}, rows)
}

func printAuditEvents(items []domain.AuditEvent) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{formatTime(item.CreatedAt), item.Action, item.ActorURN, item.EntityURN})
	}
	printTable([]string{"AT", "ACTION", "ACTOR", "ENTITY"}, rows)
}

func printViolations(list rules.Violations) {
	rows := make([][]string, 0, len(list))
	for _, v := range list {
		rows = append(rows, []string{strconv.Itoa(v.Index), v.Field, v.Message})
	}
	printTable([]string{"RULE", "FIELD", "PROBLEM"}, rows)
}
