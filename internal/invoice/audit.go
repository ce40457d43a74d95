package invoice

import (
	"context"
	"errors"

	"github.com/ledgerline/invoicing/internal/audit"
	"github.com/ledgerline/invoicing/internal/shared"
)

// AuditEntity is the audit_logs entity of invoice records.
const AuditEntity = "invoice"

var errAuditTrailUnavailable = errors.New("invoice: audit trail reader not configured")

// AuditTrail returns a page of the audit history of an invoice the actor can see.
func (s *Service) AuditTrail(ctx context.Context, actor shared.Actor, ref string, filters audit.TimelineFilters) (audit.Result, error) {
	if s.auditTrail == nil {
		return audit.Result{}, errAuditTrailUnavailable
	}
	inv, err := s.GetByRef(ctx, actor, ref)
	if err != nil {
		return audit.Result{}, err
	}
	filters.Entity = AuditEntity
	filters.EntityID = inv.UUID.String()
	return s.auditTrail.Timeline(ctx, filters)
}

// ExportAuditTrail returns the full audit history of an invoice the actor can see.
func (s *Service) ExportAuditTrail(ctx context.Context, actor shared.Actor, ref string, filters audit.TimelineFilters) (*Invoice, []audit.Entry, error) {
	if s.auditTrail == nil {
		return nil, nil, errAuditTrailUnavailable
	}
	inv, err := s.GetByRef(ctx, actor, ref)
	if err != nil {
		return nil, nil, err
	}
	filters.Entity = AuditEntity
	filters.EntityID = inv.UUID.String()
	entries, err := s.auditTrail.Export(ctx, filters)
	if err != nil {
		return nil, nil, err
	}
	return inv, entries, nil
}
