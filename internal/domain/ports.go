package domain

import "context"

// Store is the read/write surface of the registry. Implementations bound to a
// transaction see only that transaction's state.
type Store interface {
	GetEntity(ctx context.Context, urn string) (Entity, error)
	ListEntities(ctx context.Context, query EntityQuery) ([]Entity, error)
	CountEntities(ctx context.Context, query EntityQuery) (int64, error)
	ListEntitiesByType(ctx context.Context, typeURN string) ([]Entity, error)
	CreateEntity(ctx context.Context, value Entity) (Entity, error)
	SaveEntity(ctx context.Context, value Entity) (Entity, error)

	GetRelationship(ctx context.Context, id string) (RelationshipSummary, error)
	ListRelationships(ctx context.Context, filter RelationshipFilter) ([]RelationshipSummary, error)
	CountRelationships(ctx context.Context, filter RelationshipFilter) (int64, error)
	OutgoingRelationships(ctx context.Context, urn string) ([]RelationshipSummary, error)
	IncomingRelationships(ctx context.Context, urn string) ([]RelationshipSummary, error)
	CreateRelationship(ctx context.Context, value Relationship) (Relationship, error)
	SaveRelationship(ctx context.Context, value Relationship) (Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error

	AppendAuditEvent(ctx context.Context, value AuditEvent) (AuditEvent, error)
	ListAuditEvents(ctx context.Context, entityURN string, limit int) ([]AuditEvent, error)
}

// Transactor runs fn inside one atomic unit of work. Any error returned by fn
// rolls back every write made through the store it was handed.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Repository is a Store that can also open transactions.
type Repository interface {
	Store
	Transactor
}
