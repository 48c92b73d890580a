package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/bitrix"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/syncctx"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Pipeline pulls entities from the portal into the local store. It
// implements repositories.Importer, which lets stores resolve related
// entities on demand while the coordination cache breaks cycles.
type Pipeline struct {
	db      database.DB
	stores  *repositories.Stores
	caller  bitrix.Caller
	engine  *reconcile.Engine
	emitter *events.Emitter

	deals     *bitrix.Adapter
	leads     *bitrix.Adapter
	companies *bitrix.Adapter
	contacts  *bitrix.Adapter
	products  *bitrix.Adapter

	logger ectologger.Logger
}

func NewPipeline(db database.DB, stores *repositories.Stores, caller bitrix.Caller, engine *reconcile.Engine, emitter *events.Emitter, logger ectologger.Logger) *Pipeline {
	p := &Pipeline{
		db:        db,
		stores:    stores,
		caller:    caller,
		engine:    engine,
		emitter:   emitter,
		deals:     bitrix.NewAdapter(caller, models.KindDeal, bitrix.NamespaceCRM, "deal", 0),
		leads:     bitrix.NewAdapter(caller, models.KindLead, bitrix.NamespaceCRM, "lead", 0),
		companies: bitrix.NewAdapter(caller, models.KindCompany, bitrix.NamespaceCRM, "company", 0),
		contacts:  bitrix.NewAdapter(caller, models.KindContact, bitrix.NamespaceCRM, "contact", 0),
		products:  bitrix.NewAdapter(caller, models.KindProduct, bitrix.NamespaceCatalog, "product", 0),
		logger:    logger,
	}
	stores.SetImporter(p)
	return p
}

// DealAdapter exposes the portal deal surface to collaborators that write
// deals back (the reconciliation engine, the site-request handler).
func (p *Pipeline) DealAdapter() *bitrix.Adapter {
	return p.deals
}

// Import fetches one entity and creates its local row. A portal not-found
// becomes a tombstone-default row. Re-entering an id already being imported
// fails with the cache's cyclic-call error.
func (p *Pipeline) Import(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Import")
	defer span.End()

	key := models.Key{Kind: kind, ExternalID: externalID}
	if err := sc.EnterImport(key); err != nil {
		return err
	}
	defer sc.LeaveImport(key)

	record, fields, err := p.fetch(ctx, kind, externalID)
	if err != nil {
		return err
	}
	if err := p.persist(ctx, sc, kind, record, fields); err != nil {
		return err
	}

	sc.MarkUpdated(key)
	p.emitSynced(ctx, kind, externalID)
	return nil
}

// Refresh re-fetches an entity that already has a local row and overwrites
// it with the portal copy.
func (p *Pipeline) Refresh(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Refresh")
	defer span.End()

	key := models.Key{Kind: kind, ExternalID: externalID}
	if sc.IsUpdated(key) {
		return nil
	}
	if err := sc.EnterImport(key); err != nil {
		return err
	}
	defer sc.LeaveImport(key)

	record, fields, err := p.fetch(ctx, kind, externalID)
	if err != nil {
		return err
	}
	if err := p.persist(ctx, sc, kind, record, fields); err != nil {
		return err
	}

	sc.MarkUpdated(key)
	p.emitSynced(ctx, kind, externalID)
	return nil
}

// ImportDefault writes a tombstone-default row without touching the portal.
// Stores call it when a cycle forces a placeholder; the real refresh runs
// once the in-flight import unwinds.
func (p *Pipeline) ImportDefault(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.ImportDefault")
	defer span.End()

	record, err := defaultRecord(kind, externalID)
	if err != nil {
		return err
	}
	return p.persist(ctx, sc, kind, record, nil)
}

// Tombstone flags an entity deleted portal-side. An unknown id gets a
// default row created first so the fact is not lost.
func (p *Pipeline) Tombstone(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Tombstone")
	defer span.End()

	err := p.setTombstone(ctx, sc, kind, externalID)
	if repositories.IsNotFound(err) {
		if err := p.ImportDefault(ctx, sc, kind, externalID); err != nil {
			return err
		}
		err = nil
	}
	if err != nil {
		return err
	}

	if p.emitter != nil {
		if emitErr := p.emitter.EmitTombstoned(ctx, kind, externalID); emitErr != nil {
			p.logger.WithContext(ctx).WithError(emitErr).Warn("Failed to emit tombstone event")
		}
	}
	return nil
}

// SyncDeal runs the full deal path: fetch, reconcile against the local row,
// then resolve any refreshes a cycle deferred.
func (p *Pipeline) SyncDeal(ctx context.Context, sc *syncctx.Context, externalID int64) (*models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.SyncDeal")
	defer span.End()

	fields, err := p.deals.Get(ctx, externalID)
	if err != nil {
		if bitrix.IsNotFound(err) {
			return nil, reconcile.ErrDealNotFound
		}
		return nil, err
	}
	dealB24 := bitrix.DecodeDeal(fields)

	var dealDB *models.Deal
	existing, err := p.stores.Deals.Get(ctx, sc, externalID)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, err
	}
	if err == nil {
		dealDB = existing
	}

	key := models.Key{Kind: models.KindDeal, ExternalID: externalID}
	if err := sc.EnterImport(key); err != nil {
		return nil, err
	}

	deal, err := p.engine.Reconcile(ctx, sc, dealB24, dealDB)
	sc.LeaveImport(key)
	if err != nil {
		return nil, err
	}

	sc.MarkUpdated(key)
	if err := p.drain(ctx, sc); err != nil {
		return nil, err
	}
	p.emitSynced(ctx, models.KindDeal, externalID)
	return deal, nil
}

// SyncEntity is the webhook path for non-deal kinds: import or refresh, then
// resolve deferred refreshes.
func (p *Pipeline) SyncEntity(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.SyncEntity")
	defer span.End()

	if err := p.Refresh(ctx, sc, kind, externalID); err != nil {
		return err
	}
	return p.drain(ctx, sc)
}

// drain refreshes the entities whose import was cut short by a cycle.
// Refreshing can in turn defer more work, so loop until the set stays empty.
func (p *Pipeline) drain(ctx context.Context, sc *syncctx.Context) error {
	for keys := sc.DrainUpdateNeeded(); len(keys) > 0; keys = sc.DrainUpdateNeeded() {
		for _, key := range keys {
			if err := p.Refresh(ctx, sc, key.Kind, key.ExternalID); err != nil {
				p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"kind":        key.Kind,
					"external_id": key.ExternalID,
				}).Error("deferred refresh failed")
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, kind models.Kind, externalID int64) (models.Record, bitrix.Fields, error) {
	adapter := p.adapterFor(kind)
	if adapter != nil {
		fields, err := adapter.Get(ctx, externalID)
		if err != nil {
			if bitrix.IsNotFound(err) {
				record, derr := defaultRecord(kind, externalID)
				return record, nil, derr
			}
			return nil, nil, err
		}
		return decodeRecord(kind, fields), fields, nil
	}

	switch kind {
	case models.KindUser:
		fields, err := p.fetchFirst(ctx, "user.get", externalID)
		if err != nil {
			return nil, nil, err
		}
		if fields == nil {
			return bitrix.DefaultUser(externalID), nil, nil
		}
		return bitrix.DecodeUser(fields), fields, nil
	case models.KindDepartment:
		fields, err := p.fetchFirst(ctx, "department.get", externalID)
		if err != nil {
			return nil, nil, err
		}
		if fields == nil {
			return bitrix.DefaultDepartment(externalID), nil, nil
		}
		return bitrix.DecodeDepartment(fields), fields, nil
	default:
		return nil, nil, fmt.Errorf("no portal adapter for kind %s", kind)
	}
}

// fetchFirst handles the portal methods that answer with an array even for a
// single-id lookup (user.get, department.get).
func (p *Pipeline) fetchFirst(ctx context.Context, method string, externalID int64) (bitrix.Fields, error) {
	page, err := p.caller.CallList(ctx, method, map[string]any{"ID": externalID})
	if err != nil {
		if bitrix.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []bitrix.Fields
	if err := json.Unmarshal(page.Result, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (p *Pipeline) adapterFor(kind models.Kind) *bitrix.Adapter {
	switch kind {
	case models.KindDeal:
		return p.deals
	case models.KindLead:
		return p.leads
	case models.KindCompany:
		return p.companies
	case models.KindContact:
		return p.contacts
	case models.KindProduct:
		return p.products
	default:
		return nil
	}
}

func decodeRecord(kind models.Kind, fields bitrix.Fields) models.Record {
	switch kind {
	case models.KindDeal:
		return bitrix.DecodeDeal(fields)
	case models.KindLead:
		return bitrix.DecodeLead(fields)
	case models.KindCompany:
		return bitrix.DecodeCompany(fields)
	case models.KindContact:
		return bitrix.DecodeContact(fields)
	case models.KindProduct:
		return bitrix.DecodeProduct(fields)
	default:
		return nil
	}
}

func defaultRecord(kind models.Kind, externalID int64) (models.Record, error) {
	switch kind {
	case models.KindDeal:
		return bitrix.DefaultDeal(externalID), nil
	case models.KindLead:
		return bitrix.DefaultLead(externalID), nil
	case models.KindCompany:
		return bitrix.DefaultCompany(externalID), nil
	case models.KindContact:
		return bitrix.DefaultContact(externalID), nil
	case models.KindUser:
		return bitrix.DefaultUser(externalID), nil
	case models.KindProduct:
		return bitrix.DefaultProduct(externalID), nil
	case models.KindDepartment:
		return bitrix.DefaultDepartment(externalID), nil
	default:
		return nil, fmt.Errorf("no default record for kind %s", kind)
	}
}

// persist writes a fetched record with create-or-update semantics, then
// applies any communication multifields present in the raw payload.
func (p *Pipeline) persist(ctx context.Context, sc *syncctx.Context, kind models.Kind, record models.Record, fields bitrix.Fields) error {
	var err error
	switch kind {
	case models.KindDeal:
		err = createOrReplace(ctx, sc, p.stores.Deals, record.(*models.Deal))
	case models.KindLead:
		err = createOrReplace(ctx, sc, p.stores.Leads, record.(*models.Lead))
	case models.KindCompany:
		err = createOrReplace(ctx, sc, p.stores.Companies, record.(*models.Company))
	case models.KindContact:
		err = createOrReplace(ctx, sc, p.stores.Contacts, record.(*models.Contact))
	case models.KindUser:
		err = createOrReplace(ctx, sc, p.stores.Users, record.(*models.User))
	case models.KindProduct:
		err = createOrReplace(ctx, sc, p.stores.Products, record.(*models.Product))
	case models.KindDepartment:
		err = createOrReplace(ctx, sc, p.stores.Departments, record.(*models.Department))
	default:
		err = fmt.Errorf("no store for kind %s", kind)
	}
	if err != nil {
		return err
	}

	if fields != nil && hasChannels(kind) {
		channels := bitrix.DecodeChannels(fields)
		if len(channels) > 0 {
			if err := p.stores.Channels.Replace(ctx, sc, kind, record.GetExternalID(), channels); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasChannels(kind models.Kind) bool {
	switch kind {
	case models.KindDeal, models.KindLead, models.KindCompany, models.KindContact:
		return true
	default:
		return false
	}
}

func (p *Pipeline) setTombstone(ctx context.Context, sc *syncctx.Context, kind models.Kind, externalID int64) error {
	switch kind {
	case models.KindDeal:
		return p.stores.Deals.SetDeletedInBitrix(ctx, sc, externalID, true)
	case models.KindLead:
		return p.stores.Leads.SetDeletedInBitrix(ctx, sc, externalID, true)
	case models.KindCompany:
		return p.stores.Companies.SetDeletedInBitrix(ctx, sc, externalID, true)
	case models.KindContact:
		return p.stores.Contacts.SetDeletedInBitrix(ctx, sc, externalID, true)
	case models.KindUser:
		return p.stores.Users.SetDeletedInBitrix(ctx, sc, externalID, true)
	case models.KindProduct:
		return p.stores.Products.SetDeletedInBitrix(ctx, sc, externalID, true)
	case models.KindDepartment:
		return p.stores.Departments.SetDeletedInBitrix(ctx, sc, externalID, true)
	default:
		return fmt.Errorf("no store for kind %s", kind)
	}
}

func (p *Pipeline) emitSynced(ctx context.Context, kind models.Kind, externalID int64) {
	if p.emitter == nil {
		return
	}
	if err := p.emitter.EmitSynced(ctx, kind, externalID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to emit sync event")
	}
}

func createOrReplace[T models.Record](ctx context.Context, sc *syncctx.Context, store *repositories.Store[T], entity T) error {
	err := store.Create(ctx, sc, entity, nil)
	if err == nil {
		return nil
	}
	if !repositories.IsConflict(err) {
		return err
	}
	return store.Replace(ctx, sc, entity, nil)
}
