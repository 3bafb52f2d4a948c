package sqlite

import "time"

type EntityModel struct {
	URN           string `gorm:"column:urn;primaryKey"`
	EntityTypeURN string `gorm:"column:entity_type_urn;not null;index"`
	Attributes    string `gorm:"column:attributes;not null;default:'{}'"`
	FSMState      string `gorm:"column:fsm_state;not null;default:''"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (EntityModel) TableName() string { return "entities" }

type RelationshipModel struct {
	ID            string `gorm:"column:id;primaryKey"`
	DefinitionURN string `gorm:"column:definition_urn;not null"`
	FromURN       string `gorm:"column:from_urn;not null"`
	ToURN         string `gorm:"column:to_urn;not null"`
	Attributes    string `gorm:"column:attributes;not null;default:'{}'"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RelationshipModel) TableName() string { return "relationships" }

// AuditEventModel rows are append-only; triggers reject UPDATE and DELETE.
type AuditEventModel struct {
	ID        uint   `gorm:"primaryKey"`
	EntityURN string `gorm:"column:entity_urn;not null;index"`
	Action    string `gorm:"not null"`
	ActorURN  string `gorm:"column:actor_urn;not null"`
	Payload   string `gorm:"not null;default:'{}'"`
	CreatedAt time.Time
}

func (AuditEventModel) TableName() string { return "audit_events" }
