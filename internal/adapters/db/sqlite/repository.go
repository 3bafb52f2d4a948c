package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

// Repository implements domain.Repository. A Repository returned by WithinTx is
// bound to that transaction.
type Repository struct {
	db *gorm.DB
}

var _ domain.Repository = (*Repository)(nil)

// queryLogger keeps gorm quiet; missing records are reported as domain errors.
var queryLogger = logger.Default.LogMode(logger.Silent)

func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
	}, &gorm.Config{Logger: queryLogger})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer at a time; transactions own the connection for their lifetime.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, store domain.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Repository{db: tx})
	})
}

func mapError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFound(what)
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return domain.NewError(domain.ErrConflict, what+" already exists").WithCause(err)
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return domain.NewError(domain.ErrConflict, what+" references a missing entity").WithCause(err)
	}
	return err
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(raw string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func toEntity(m EntityModel) domain.Entity {
	return domain.Entity{
		URN:           m.URN,
		EntityTypeURN: m.EntityTypeURN,
		Attributes:    decodeAttributes(m.Attributes),
		FSMState:      m.FSMState,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (r *Repository) GetEntity(ctx context.Context, urn string) (domain.Entity, error) {
	var m EntityModel
	if err := r.db.WithContext(ctx).Where("urn = ?", urn).First(&m).Error; err != nil {
		return domain.Entity{}, mapError(err, "entity "+urn)
	}
	return toEntity(m), nil
}

func (r *Repository) entityQuery(ctx context.Context, query domain.EntityQuery) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&EntityModel{})
	if strings.TrimSpace(query.TypeURN) != "" {
		q = q.Where("entity_type_urn = ?", strings.TrimSpace(query.TypeURN))
	}
	if strings.TrimSpace(query.Search) != "" {
		like := "%" + strings.TrimSpace(query.Search) + "%"
		q = q.Where("urn LIKE ? OR attributes LIKE ?", like, like)
	}
	return q
}

func (r *Repository) ListEntities(ctx context.Context, query domain.EntityQuery) ([]domain.Entity, error) {
	q := r.entityQuery(ctx, query).Order("created_at ASC, urn ASC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if query.Offset > 0 {
		q = q.Offset(query.Offset)
	}
	rows := make([]EntityModel, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Entity, 0, len(rows))
	for _, m := range rows {
		result = append(result, toEntity(m))
	}
	return result, nil
}

func (r *Repository) CountEntities(ctx context.Context, query domain.EntityQuery) (int64, error) {
	var total int64
	if err := r.entityQuery(ctx, query).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Repository) ListEntitiesByType(ctx context.Context, typeURN string) ([]domain.Entity, error) {
	return r.ListEntities(ctx, domain.EntityQuery{TypeURN: typeURN})
}

func (r *Repository) CreateEntity(ctx context.Context, value domain.Entity) (domain.Entity, error) {
	attrs, err := encodeAttributes(value.Attributes)
	if err != nil {
		return domain.Entity{}, err
	}
	now := time.Now().UTC()
	m := EntityModel{
		URN:           value.URN,
		EntityTypeURN: value.EntityTypeURN,
		Attributes:    attrs,
		FSMState:      value.FSMState,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Entity{}, mapError(err, "entity "+value.URN)
	}
	return toEntity(m), nil
}

// SaveEntity replaces the attributes and state of an existing entity.
func (r *Repository) SaveEntity(ctx context.Context, value domain.Entity) (domain.Entity, error) {
	attrs, err := encodeAttributes(value.Attributes)
	if err != nil {
		return domain.Entity{}, err
	}
	res := r.db.WithContext(ctx).Model(&EntityModel{}).Where("urn = ?", value.URN).Updates(map[string]any{
		"attributes": attrs,
		"fsm_state":  value.FSMState,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return domain.Entity{}, mapError(res.Error, "entity "+value.URN)
	}
	if res.RowsAffected == 0 {
		return domain.Entity{}, domain.NotFound("entity " + value.URN)
	}
	return r.GetEntity(ctx, value.URN)
}

type relationshipRow struct {
	ID             string
	DefinitionURN  string
	DefinitionCode string
	FromURN        string
	FromTypeURN    string
	ToURN          string
	ToTypeURN      string
	Attributes     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const relationshipSelect = `
SELECT r.id,
       r.definition_urn,
       COALESCE(json_extract(d.attributes, '$.code'), '') AS definition_code,
       r.from_urn,
       COALESCE(fe.entity_type_urn, '') AS from_type_urn,
       r.to_urn,
       COALESCE(te.entity_type_urn, '') AS to_type_urn,
       r.attributes,
       r.created_at,
       r.updated_at
FROM relationships r
LEFT JOIN entities d ON d.urn = r.definition_urn
LEFT JOIN entities fe ON fe.urn = r.from_urn
LEFT JOIN entities te ON te.urn = r.to_urn
`

func toSummary(m relationshipRow) domain.RelationshipSummary {
	code := m.DefinitionCode
	if code == "" {
		code = lastSegment(m.DefinitionURN)
	}
	return domain.RelationshipSummary{
		Relationship: domain.Relationship{
			ID:            m.ID,
			DefinitionURN: m.DefinitionURN,
			FromURN:       m.FromURN,
			ToURN:         m.ToURN,
			Attributes:    decodeAttributes(m.Attributes),
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
		},
		DefinitionCode: code,
		FromTypeURN:    m.FromTypeURN,
		ToTypeURN:      m.ToTypeURN,
	}
}

func filterClause(filter domain.RelationshipFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.DefinitionURN != "" {
		conds = append(conds, "r.definition_urn = ?")
		args = append(args, filter.DefinitionURN)
	}
	if filter.FromURN != "" {
		conds = append(conds, "r.from_urn = ?")
		args = append(args, filter.FromURN)
	}
	if filter.ToURN != "" {
		conds = append(conds, "r.to_urn = ?")
		args = append(args, filter.ToURN)
	}
	if filter.ExcludeID != "" {
		conds = append(conds, "r.id <> ?")
		args = append(args, filter.ExcludeID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND ") + "\n", args
}

func (r *Repository) GetRelationship(ctx context.Context, id string) (domain.RelationshipSummary, error) {
	var m relationshipRow
	if err := r.db.WithContext(ctx).Raw(relationshipSelect+"WHERE r.id = ?\n", id).Scan(&m).Error; err != nil {
		return domain.RelationshipSummary{}, err
	}
	if m.ID == "" {
		return domain.RelationshipSummary{}, domain.NotFound("relationship " + id)
	}
	return toSummary(m), nil
}

func (r *Repository) ListRelationships(ctx context.Context, filter domain.RelationshipFilter) ([]domain.RelationshipSummary, error) {
	where, args := filterClause(filter)
	sql := relationshipSelect + where + "ORDER BY r.created_at ASC, r.id ASC\n"
	if filter.Limit > 0 {
		sql += "LIMIT ?\n"
		args = append(args, filter.Limit)
	}
	rows := make([]relationshipRow, 0)
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.RelationshipSummary, 0, len(rows))
	for _, m := range rows {
		result = append(result, toSummary(m))
	}
	return result, nil
}

func (r *Repository) CountRelationships(ctx context.Context, filter domain.RelationshipFilter) (int64, error) {
	where, args := filterClause(filter)
	var total int64
	if err := r.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM relationships r\n"+where, args...).Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Repository) OutgoingRelationships(ctx context.Context, urn string) ([]domain.RelationshipSummary, error) {
	return r.ListRelationships(ctx, domain.RelationshipFilter{FromURN: urn})
}

func (r *Repository) IncomingRelationships(ctx context.Context, urn string) ([]domain.RelationshipSummary, error) {
	return r.ListRelationships(ctx, domain.RelationshipFilter{ToURN: urn})
}

func (r *Repository) CreateRelationship(ctx context.Context, value domain.Relationship) (domain.Relationship, error) {
	attrs, err := encodeAttributes(value.Attributes)
	if err != nil {
		return domain.Relationship{}, err
	}
	now := time.Now().UTC()
	m := RelationshipModel{
		ID:            defaultString(value.ID, uuid.NewString()),
		DefinitionURN: value.DefinitionURN,
		FromURN:       value.FromURN,
		ToURN:         value.ToURN,
		Attributes:    attrs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Relationship{}, mapError(err, fmt.Sprintf("relationship %s -> %s", value.FromURN, value.ToURN))
	}
	return domain.Relationship{
		ID:            m.ID,
		DefinitionURN: m.DefinitionURN,
		FromURN:       m.FromURN,
		ToURN:         m.ToURN,
		Attributes:    decodeAttributes(m.Attributes),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

// SaveRelationship updates endpoints and attributes; the definition is fixed.
func (r *Repository) SaveRelationship(ctx context.Context, value domain.Relationship) (domain.Relationship, error) {
	attrs, err := encodeAttributes(value.Attributes)
	if err != nil {
		return domain.Relationship{}, err
	}
	res := r.db.WithContext(ctx).Model(&RelationshipModel{}).Where("id = ?", value.ID).Updates(map[string]any{
		"from_urn":   value.FromURN,
		"to_urn":     value.ToURN,
		"attributes": attrs,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return domain.Relationship{}, mapError(res.Error, "relationship "+value.ID)
	}
	if res.RowsAffected == 0 {
		return domain.Relationship{}, domain.NotFound("relationship " + value.ID)
	}
	var m RelationshipModel
	if err := r.db.WithContext(ctx).Where("id = ?", value.ID).First(&m).Error; err != nil {
		return domain.Relationship{}, mapError(err, "relationship "+value.ID)
	}
	return domain.Relationship{
		ID:            m.ID,
		DefinitionURN: m.DefinitionURN,
		FromURN:       m.FromURN,
		ToURN:         m.ToURN,
		Attributes:    decodeAttributes(m.Attributes),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func (r *Repository) DeleteRelationship(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&RelationshipModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("relationship " + id)
	}
	return nil
}

func (r *Repository) AppendAuditEvent(ctx context.Context, value domain.AuditEvent) (domain.AuditEvent, error) {
	m := AuditEventModel{
		EntityURN: value.EntityURN,
		Action:    value.Action,
		ActorURN:  defaultString(value.ActorURN, domain.SystemActor),
		Payload:   defaultString(value.Payload, "{}"),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.AuditEvent{}, err
	}
	return toAuditEvent(m), nil
}

func (r *Repository) ListAuditEvents(ctx context.Context, entityURN string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = domain.DefaultAuditEventsLimit
	}
	q := r.db.WithContext(ctx).Model(&AuditEventModel{})
	if strings.TrimSpace(entityURN) != "" {
		q = q.Where("entity_urn = ?", entityURN)
	}
	rows := make([]AuditEventModel, 0)
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditEvent, 0, len(rows))
	for _, m := range rows {
		result = append(result, toAuditEvent(m))
	}
	return result, nil
}

func toAuditEvent(m AuditEventModel) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        strconv.FormatUint(uint64(m.ID), 10),
		EntityURN: m.EntityURN,
		Action:    m.Action,
		ActorURN:  m.ActorURN,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt,
	}
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}

	return input
}

func lastSegment(urn string) string {
	if idx := strings.LastIndexByte(urn, ':'); idx >= 0 {
		return urn[idx+1:]
	}
	return urn
}
