package domain

import "time"

// Meta entity types seeded at bootstrap. Entity types, relationship definitions and
// lifecycle machines are themselves entities of these types.
const (
	EntityTypeMetaURN       = "urn:mg:type:entity_type"
	RelationshipDefMetaURN  = "urn:mg:type:relationship_definition"
	FSMDefinitionMetaURN    = "urn:mg:type:fsm_definition"
	TypeURNPrefix           = "urn:mg:type:"
	DefaultFSMURN           = "urn:mg:fsm:default"
	StateDraft              = "draft"
	StateActive             = "active"
	StateArchived           = "archived"
	StateDeprecated         = "deprecated"
	DefaultRole             = "REGISTRY_USER"
	AdminRole               = "REGISTRY_ADMIN"
	SystemActor             = "urn:mg:actor:system"
	MaxEntityPageSize       = 100
	DefaultEntityPageSize   = 20
	DefaultAuditEventsLimit = 50
)

type Entity struct {
	URN           string         `json:"urn"`
	EntityTypeURN string         `json:"entity_type_urn"`
	Attributes    map[string]any `json:"attributes"`
	FSMState      string         `json:"fsm_state"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Relationship struct {
	ID            string         `json:"id"`
	DefinitionURN string         `json:"definition_urn"`
	FromURN       string         `json:"from_urn"`
	ToURN         string         `json:"to_urn"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// RelationshipSummary is a relationship joined with its definition code and the
// entity types of both endpoints.
type RelationshipSummary struct {
	Relationship
	DefinitionCode string `json:"definition_code"`
	FromTypeURN    string `json:"from_type_urn"`
	ToTypeURN      string `json:"to_type_urn"`
}

type RelationshipFilter struct {
	DefinitionURN string
	FromURN       string
	ToURN         string
	ExcludeID     string
	Limit         int
}

type EntityQuery struct {
	TypeURN string
	Search  string
	Limit   int
	Offset  int
}

type EntityPage struct {
	Data  []Entity `json:"data"`
	Total int64    `json:"total"`
}

type AuditEvent struct {
	ID        string    `json:"id"`
	EntityURN string    `json:"entity_urn"`
	Action    string    `json:"action"`
	ActorURN  string    `json:"actor_urn"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type ChangeType string

const (
	ChangeEntityUpdate              ChangeType = "ENTITY_UPDATE"
	ChangeEntityLifecycleTransition ChangeType = "ENTITY_LIFECYCLE_TRANSITION"
	ChangeRelationshipCreate        ChangeType = "RELATIONSHIP_CREATE"
	ChangeRelationshipDelete        ChangeType = "RELATIONSHIP_DELETE"
	ChangeRelationshipUpdate        ChangeType = "RELATIONSHIP_UPDATE"
	ChangeAttributeDefinitionUpdate ChangeType = "ATTRIBUTE_DEFINITION_UPDATE"
	ChangeFSMDefinitionUpdate       ChangeType = "FSM_DEFINITION_UPDATE"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeEntityUpdate, ChangeEntityLifecycleTransition, ChangeRelationshipCreate,
		ChangeRelationshipDelete, ChangeRelationshipUpdate, ChangeAttributeDefinitionUpdate,
		ChangeFSMDefinitionUpdate:
		return true
	}
	return false
}

type ImpactLevel string

const (
	LevelBlocking ImpactLevel = "BLOCKING"
	LevelWarning  ImpactLevel = "WARNING"
	LevelInfo     ImpactLevel = "INFO"
)

const (
	CodeCardinalityViolation  = "CARDINALITY_VIOLATION"
	CodeGraphIntegrityBreak   = "GRAPH_INTEGRITY_BREAK"
	CodeFSMInvalidation       = "FSM_INVALIDATION"
	CodeLifecycleBreak        = "LIFECYCLE_BREAK"
	CodeCardinalityNarrowing  = "CARDINALITY_NARROWING"
	CodeOrphanRelationship    = "ORPHAN_RELATIONSHIP"
	CodeDuplicateRelationship = "DUPLICATE_RELATIONSHIP"
	CodeSchemaViolation       = "SCHEMA_VIOLATION"
	CodeRequiredFieldGap      = "REQUIRED_FIELD_GAP"
	CodeEnumOptionInUse       = "ENUM_OPTION_IN_USE"
	CodeMetadataUpdate        = "METADATA_UPDATE"
	CodeNoImpact              = "NO_IMPACT"
)

type Impact struct {
	Code        string      `json:"code"`
	Level       ImpactLevel `json:"level"`
	EntityURN   string      `json:"entity_urn,omitempty"`
	Description string      `json:"description,omitempty"`
	Path        []string    `json:"path,omitempty"`
}

type ImpactSummary struct {
	Blocking int `json:"blocking"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

type ImpactReport struct {
	ChangeType        ChangeType    `json:"change_type"`
	TargetURN         string        `json:"target_urn"`
	Impacts           []Impact      `json:"impacts"`
	Summary           ImpactSummary `json:"summary"`
	CanCommit         bool          `json:"can_commit"`
	GraphSnapshotHash string        `json:"graph_snapshot_hash,omitempty"`
}

// Add appends an impact and keeps the summary and CanCommit in sync.
func (r *ImpactReport) Add(impact Impact) {
	r.Impacts = append(r.Impacts, impact)
	switch impact.Level {
	case LevelBlocking:
		r.Summary.Blocking++
	case LevelWarning:
		r.Summary.Warning++
	default:
		r.Summary.Info++
	}
	r.CanCommit = r.Summary.Blocking == 0
}

func NewImpactReport(changeType ChangeType, target string) *ImpactReport {
	return &ImpactReport{ChangeType: changeType, TargetURN: target, Impacts: []Impact{}, CanCommit: true}
}

// CanCommit reports whether a report carries no blocking impacts.
func CanCommit(report ImpactReport) bool {
	for _, impact := range report.Impacts {
		if impact.Level == LevelBlocking {
			return false
		}
	}
	return true
}

// Change is a proposed mutation submitted to impact analysis.
type Change struct {
	Type      ChangeType     `json:"change_type"`
	TargetURN string         `json:"target_urn"`
	Payload   map[string]any `json:"payload"`
}

type GraphNode struct {
	URN           string         `json:"urn"`
	EntityTypeURN string         `json:"entity_type_urn"`
	FSMState      string         `json:"fsm_state"`
	Attributes    map[string]any `json:"attributes"`
	Depth         int            `json:"depth"`
}

type GraphEdge struct {
	ID             string `json:"id"`
	DefinitionURN  string `json:"definition_urn"`
	DefinitionCode string `json:"definition_code"`
	FromURN        string `json:"from_urn"`
	ToURN          string `json:"to_urn"`
}

type Graph struct {
	Root  string      `json:"root"`
	View  string      `json:"view"`
	Depth int         `json:"depth"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
