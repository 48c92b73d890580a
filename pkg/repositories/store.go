package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// kindTables maps entity kinds to their backing tables. Related-entity
// existence probes use it to reach across stores.
var kindTables = map[models.Kind]string{
	models.KindDeal:                       "deals",
	models.KindLead:                       "leads",
	models.KindCompany:                    "companies",
	models.KindContact:                    "contacts",
	models.KindUser:                       "users",
	models.KindProduct:                    "products",
	models.KindProductRow:                 "product_rows",
	models.KindTimelineComment:            "timeline_comments",
	models.KindCommunicationChannel:       "communication_channels",
	models.KindDealStage:                  "deal_stages",
	models.KindDepartment:                 "departments",
	models.KindAdditionalInfo:             "additional_info",
	models.KindProductAgreementSupervisor: "product_agreement_supervisors",
}

// Importer pulls an entity from the portal into the local store. Implemented
// by the ingest pipeline; injected after construction to break the
// store/ingest cycle.
type Importer interface {
	Import(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error
	Refresh(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error
	// ImportDefault writes a tombstone-default row, used when a cyclic
	// import forces a placeholder.
	ImportDefault(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error
}

// Hook runs inside the create/update transaction.
type Hook[T models.Record] func(ctx context.Context, sc *syncctx.Context, entity T) error

// Hooks bundles the optional pre/post commit callbacks of one operation.
type Hooks[T models.Record] struct {
	Pre  []Hook[T]
	Post []Hook[T]
}

// Dependency declares a related entity a store consults before writing.
type Dependency[T models.Record] struct {
	Field    string
	Kind     models.Kind
	Required bool
	Extract  func(T) *int64
}

// Config assembles a Store.
type Config[T models.Record] struct {
	Table string
	Kind  models.Kind
	New   func() T

	// RelatedChecks are existence-only probes; missing required entities
	// fail the write with a not-found listing the fields.
	RelatedChecks []Dependency[T]
	// RelatedCreate dependencies are imported or refreshed on demand
	// through the coordination cache.
	RelatedCreate []Dependency[T]
}

// Store implements the generic entity repository over one table.
type Store[T models.Record] struct {
	*Repository
	table    string
	kind     models.Kind
	strct    *database.Struct
	newFn    func() T
	importer Importer

	relatedChecks []Dependency[T]
	relatedCreate []Dependency[T]
}

func NewStore[T models.Record](db database.DB, logger ectologger.Logger, cfg Config[T]) *Store[T] {
	return &Store[T]{
		Repository:    NewRepository(db, logger),
		table:         cfg.Table,
		kind:          cfg.Kind,
		strct:         database.NewStruct(cfg.New()),
		newFn:         cfg.New,
		relatedChecks: cfg.RelatedChecks,
		relatedCreate: cfg.RelatedCreate,
	}
}

// SetImporter wires the ingest pipeline in after both sides exist.
func (s *Store[T]) SetImporter(importer Importer) {
	s.importer = importer
}

func (s *Store[T]) Kind() models.Kind {
	return s.kind
}

func (s *Store[T]) key(externalID int64) models.Key {
	return models.Key{Kind: s.kind, ExternalID: externalID}
}

// Create inserts a new entity. A row already present, either seen up front
// or surfacing as a duplicate key, yields a conflict.
func (s *Store[T]) Create(ctx context.Context, sc *syncctx.Context, entity T, hooks *Hooks[T]) error {
	ctx, span := tracing.StartSpan(ctx, "Store.Create")
	defer span.End()

	externalID := entity.GetExternalID()
	if externalID == 0 {
		return BadRequest("external_id is required")
	}

	exists, err := s.Exists(ctx, sc, externalID)
	if err != nil {
		return err
	}
	if exists {
		return Conflict("%s %d already exists", s.kind, externalID)
	}

	if err := s.ensureRelated(ctx, sc, entity); err != nil {
		return err
	}

	if hooks != nil {
		for _, hook := range hooks.Pre {
			if err := hook(ctx, sc, entity); err != nil {
				return err
			}
		}
	}

	ib := s.strct.InsertInto(s.table, entity)
	query, args := ib.Build()
	if _, err := sc.Tx().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			sc.SetExists(s.key(externalID), true)
			return Conflict("%s %d already exists", s.kind, externalID)
		}
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":        s.kind,
			"external_id": externalID,
		}).Error("failed to create entity")
		return err
	}

	sc.SetExists(s.key(externalID), true)

	if hooks != nil {
		for _, hook := range hooks.Post {
			if err := hook(ctx, sc, entity); err != nil {
				return err
			}
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":        s.kind,
		"external_id": externalID,
	}).Debugf("Created %s", s.table)
	return nil
}

// Get loads an entity by its external id.
func (s *Store[T]) Get(ctx context.Context, sc *syncctx.Context, externalID int64) (T, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.Get")
	defer span.End()

	var zero T

	sb := s.strct.SelectFrom(s.table)
	sb.Where(sb.Equal("external_id", externalID))

	query, args := sb.Build()
	entity := s.newFn()
	err := sc.Tx().GetContext(ctx, entity, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		sc.SetExists(s.key(externalID), false)
		return zero, NotFound("%s %d does not exist", s.kind, externalID)
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":        s.kind,
			"external_id": externalID,
		}).Error("failed to get entity")
		return zero, err
	}

	sc.SetExists(s.key(externalID), true)
	return entity, nil
}

// Update writes only the given fields, leaving everything else untouched,
// and returns the refreshed entity.
func (s *Store[T]) Update(ctx context.Context, sc *syncctx.Context, externalID int64, fields map[string]any, hooks *Hooks[T]) (T, error) {
	ctx, span := tracing.StartSpan(ctx, "Store.Update")
	defer span.End()

	var zero T
	if externalID == 0 {
		return zero, BadRequest("external_id is required")
	}

	if err := s.ensureRelatedFields(ctx, sc, fields); err != nil {
		return zero, err
	}

	if hooks != nil && len(hooks.Pre) > 0 {
		entity, err := s.Get(ctx, sc, externalID)
		if err != nil {
			return zero, err
		}
		for _, hook := range hooks.Pre {
			if err := hook(ctx, sc, entity); err != nil {
				return zero, err
			}
		}
	}

	if len(fields) > 0 {
		ub := database.NewUpdateBuilder()
		ub.Update(s.table)
		assignments := make([]string, 0, len(fields)+1)
		for name, value := range fields {
			assignments = append(assignments, ub.Assign(name, value))
		}
		assignments = append(assignments, ub.Assign("updated_at", sqlbuilder.Raw("NOW()")))
		ub.Set(assignments...)
		ub.Where(ub.Equal("external_id", externalID))

		query, args := ub.Build()
		result, err := sc.Tx().ExecContext(ctx, query, args...)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"kind":        s.kind,
				"external_id": externalID,
			}).Error("failed to update entity")
			return zero, err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return zero, err
		}
		if rows == 0 {
			sc.SetExists(s.key(externalID), false)
			return zero, NotFound("%s %d does not exist", s.kind, externalID)
		}
	}

	entity, err := s.Get(ctx, sc, externalID)
	if err != nil {
		return zero, err
	}

	if hooks != nil {
		for _, hook := range hooks.Post {
			if err := hook(ctx, sc, entity); err != nil {
				return zero, err
			}
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":        s.kind,
		"external_id": externalID,
	}).Debugf("Updated %s", s.table)
	return entity, nil
}

// Replace overwrites the whole row with the given entity. Used by the ingest
// refresh path, where the portal copy is the full truth.
func (s *Store[T]) Replace(ctx context.Context, sc *syncctx.Context, entity T, hooks *Hooks[T]) error {
	ctx, span := tracing.StartSpan(ctx, "Store.Replace")
	defer span.End()

	externalID := entity.GetExternalID()
	if externalID == 0 {
		return BadRequest("external_id is required")
	}

	if err := s.ensureRelated(ctx, sc, entity); err != nil {
		return err
	}

	if hooks != nil {
		for _, hook := range hooks.Pre {
			if err := hook(ctx, sc, entity); err != nil {
				return err
			}
		}
	}

	ub := s.strct.Update(s.table, entity)
	ub.Where(ub.Equal("external_id", externalID))
	ub.SetMore(ub.Assign("updated_at", sqlbuilder.Raw("NOW()")))

	query, args := ub.Build()
	result, err := sc.Tx().ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":        s.kind,
			"external_id": externalID,
		}).Error("failed to replace entity")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		sc.SetExists(s.key(externalID), false)
		return NotFound("%s %d does not exist", s.kind, externalID)
	}

	sc.SetExists(s.key(externalID), true)

	if hooks != nil {
		for _, hook := range hooks.Post {
			if err := hook(ctx, sc, entity); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete physically removes a row. The webhook delete path uses
// SetDeletedInBitrix instead; this exists for admin tooling.
func (s *Store[T]) Delete(ctx context.Context, sc *syncctx.Context, externalID int64, preDelete Hook[T]) error {
	ctx, span := tracing.StartSpan(ctx, "Store.Delete")
	defer span.End()

	if preDelete != nil {
		entity, err := s.Get(ctx, sc, externalID)
		if err != nil {
			return err
		}
		if err := preDelete(ctx, sc, entity); err != nil {
			return err
		}
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(s.table).Where(db.Equal("external_id", externalID))

	query, args := db.Build()
	result, err := sc.Tx().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return NotFound("%s %d does not exist", s.kind, externalID)
	}

	sc.SetExists(s.key(externalID), false)
	return nil
}

// SetDeletedInBitrix flips the tombstone flag. The row stays; the flag is a
// fact about the portal, not about us.
func (s *Store[T]) SetDeletedInBitrix(ctx context.Context, sc *syncctx.Context, externalID int64, flag bool) error {
	ctx, span := tracing.StartSpan(ctx, "Store.SetDeletedInBitrix")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(s.table)
	ub.Set(
		ub.Assign("is_deleted_in_bitrix", flag),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ub.Where(ub.Equal("external_id", externalID))

	query, args := ub.Build()
	result, err := sc.Tx().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return NotFound("%s %d does not exist", s.kind, externalID)
	}
	return nil
}

// Exists answers whether the entity is present, memoized per request.
func (s *Store[T]) Exists(ctx context.Context, sc *syncctx.Context, externalID int64) (bool, error) {
	if exists, known := sc.ExistsCached(s.key(externalID)); known {
		return exists, nil
	}
	exists, err := existsInTable(ctx, sc, s.table, externalID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":        s.kind,
			"external_id": externalID,
		}).Error("failed to probe entity existence")
		return false, err
	}
	sc.SetExists(s.key(externalID), exists)
	return exists, nil
}

func existsInTable(ctx context.Context, sc *syncctx.Context, table string, externalID int64) (bool, error) {
	sb := database.NewSelectBuilder()
	sb.Select("1").From(table)
	sb.Where(sb.Equal("external_id", externalID))
	sb.Limit(1)

	query, args := sb.Build()
	var one int
	err := sc.Tx().GetContext(ctx, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func existsKind(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) (bool, error) {
	key := models.Key{Kind: kind, ExternalID: externalID}
	if exists, known := sc.ExistsCached(key); known {
		return exists, nil
	}
	table, ok := kindTables[kind]
	if !ok {
		return false, BadRequest("unknown entity kind " + string(kind))
	}
	exists, err := existsInTable(ctx, sc, table, externalID)
	if err != nil {
		return false, err
	}
	sc.SetExists(key, exists)
	return exists, nil
}

// ensureRelated walks the declared dependencies of entity before a write.
// Existence-only checks fail fast; create dependencies are pulled from the
// portal on demand, with the coordination cache breaking cycles.
func (s *Store[T]) ensureRelated(ctx context.Context, sc *syncctx.Context, entity T) error {
	var missing []string
	for _, dep := range s.relatedChecks {
		idp := dep.Extract(entity)
		if idp == nil || *idp == 0 {
			if dep.Required {
				missing = append(missing, dep.Field)
			}
			continue
		}
		exists, err := existsKind(ctx, sc, dep.Kind, *idp)
		if err != nil {
			return err
		}
		if !exists {
			missing = append(missing, dep.Field)
		}
	}
	if len(missing) > 0 {
		return NotFound("%s is missing related entities: %s", s.kind, strings.Join(missing, ", "))
	}

	for _, dep := range s.relatedCreate {
		idp := dep.Extract(entity)
		if idp == nil || *idp == 0 {
			continue
		}
		if err := s.ensureDependency(ctx, sc, dep.Kind, *idp); err != nil {
			return err
		}
	}
	return nil
}

// ensureRelatedFields is the field-map flavor used by partial updates.
func (s *Store[T]) ensureRelatedFields(ctx context.Context, sc *syncctx.Context, fields map[string]any) error {
	for _, dep := range s.relatedCreate {
		raw, present := fields[dep.Field]
		if !present {
			continue
		}
		externalID := coerceID(raw)
		if externalID == 0 {
			continue
		}
		if err := s.ensureDependency(ctx, sc, dep.Kind, externalID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store[T]) ensureDependency(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	if s.importer == nil {
		return nil
	}

	key := models.Key{Kind: kind, ExternalID: externalID}
	exists, err := existsKind(ctx, sc, kind, externalID)
	if err != nil {
		return err
	}

	if !exists {
		if sc.InProgress(key) {
			// Cycle: write a placeholder now, refresh it once the
			// in-flight import unwinds.
			sc.MarkUpdateNeeded(key)
			return s.importer.ImportDefault(ctx, sc, kind, externalID)
		}
		return s.importer.Import(ctx, sc, kind, externalID)
	}

	if sc.IsUpdated(key) {
		return nil
	}
	if sc.InProgress(key) {
		sc.MarkUpdateNeeded(key)
		return nil
	}
	return s.importer.Refresh(ctx, sc, kind, externalID)
}

func coerceID(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case *int64:
		if v != nil {
			return *v
		}
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
