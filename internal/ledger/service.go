package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// AuditPort records audit trail entries after successful mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the chart of accounts.
type Service struct {
	repo      Repository
	audit     AuditPort
	cache     *TreeCache
	treeGroup singleflight.Group
	now       func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithCache installs a tree cache. Without one, Tree always hits storage.
func (s *Service) WithCache(cache *TreeCache) {
	s.cache = cache
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create validates and persists a new account head. The running balance
// starts at the opening balance.
func (s *Service) Create(ctx context.Context, tenant shared.TenantID, in CreateInput) (AccountHead, error) {
	if !tenant.Valid() {
		return AccountHead{}, shared.ValidationError("tenant required")
	}
	if in.Code == "" || in.Name == "" {
		return AccountHead{}, shared.ValidationError("code and name required")
	}
	if expected := TypeForCode(in.Code); expected != "" && expected != in.Type {
		return AccountHead{}, shared.ValidationError(
			"code starting with %q must be of type %s, got %s", in.Code[:1], expected, in.Type)
	}
	if in.ParentID != nil {
		parent, err := s.repo.GetByID(ctx, tenant, *in.ParentID)
		if err != nil {
			return AccountHead{}, err
		}
		if parent.Type != in.Type {
			return AccountHead{}, shared.ValidationError("parent account must be of the same type")
		}
	}
	if in.Status == "" {
		in.Status = AccountStatusActive
	}
	account, err := s.repo.Insert(ctx, tenant, in)
	if err != nil {
		return AccountHead{}, err
	}
	s.cache.Invalidate(ctx, tenant)
	s.recordAudit(ctx, tenant, in.ActorID, "account.create", account.ID,
		fmt.Sprintf("Account created: %s - %s (%s)", account.Code, account.Name, account.Type))
	return account, nil
}

// Update applies partial changes to an account head.
func (s *Service) Update(ctx context.Context, tenant shared.TenantID, id int64, in UpdateInput) (AccountHead, error) {
	existing, err := s.repo.GetByID(ctx, tenant, id)
	if err != nil {
		return AccountHead{}, err
	}
	if in.ParentID != nil && *in.ParentID != nil {
		parentID := **in.ParentID
		if parentID == id {
			return AccountHead{}, shared.ValidationError("account cannot be its own parent")
		}
		parent, err := s.repo.GetByID(ctx, tenant, parentID)
		if err != nil {
			return AccountHead{}, err
		}
		if parent.Type != existing.Type {
			return AccountHead{}, shared.ValidationError("parent account must be of the same type")
		}
	}
	account, err := s.repo.Update(ctx, tenant, id, in)
	if err != nil {
		return AccountHead{}, err
	}
	s.cache.Invalidate(ctx, tenant)
	s.recordAudit(ctx, tenant, in.ActorID, "account.update", id,
		fmt.Sprintf("Account updated: %s - %s", existing.Code, existing.Name))
	return account, nil
}

// Delete removes an account, refusing system accounts and accounts still
// referenced by children or journal lines.
func (s *Service) Delete(ctx context.Context, tenant shared.TenantID, id int64, actorID int64) error {
	existing, err := s.repo.GetByID(ctx, tenant, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return shared.StateError("cannot delete a system account")
	}
	hasChildren, err := s.repo.HasChildren(ctx, tenant, id)
	if err != nil {
		return err
	}
	if hasChildren {
		return shared.StateError("cannot delete account with child accounts")
	}
	hasLines, err := s.repo.HasJournalLines(ctx, tenant, id)
	if err != nil {
		return err
	}
	if hasLines {
		return shared.StateError("cannot delete account with journal entries")
	}
	if err := s.repo.Delete(ctx, tenant, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, tenant)
	s.recordAudit(ctx, tenant, actorID, "account.delete", id,
		fmt.Sprintf("Account deleted: %s - %s", existing.Code, existing.Name))
	return nil
}

// GetByID fetches a single account head.
func (s *Service) GetByID(ctx context.Context, tenant shared.TenantID, id int64) (AccountHead, error) {
	return s.repo.GetByID(ctx, tenant, id)
}

// GetByCode fetches an account by its unique code.
func (s *Service) GetByCode(ctx context.Context, tenant shared.TenantID, code string) (AccountHead, error) {
	return s.repo.GetByCode(ctx, tenant, code)
}

// List returns filtered accounts with a total count.
func (s *Service) List(ctx context.Context, tenant shared.TenantID, filter ListFilter) ([]AccountHead, int, error) {
	return s.repo.List(ctx, tenant, filter)
}

// Tree assembles the parent/child account hierarchy, roots sorted by code.
// Concurrent cache-miss rebuilds for the same tenant collapse into one.
func (s *Service) Tree(ctx context.Context, tenant shared.TenantID) ([]*AccountHead, error) {
	if roots, ok := s.cache.Get(ctx, tenant); ok {
		return roots, nil
	}
	v, err, _ := s.treeGroup.Do(treeKey(tenant), func() (any, error) {
		return s.buildTree(ctx, tenant)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*AccountHead), nil
}

func (s *Service) buildTree(ctx context.Context, tenant shared.TenantID) ([]*AccountHead, error) {
	accounts, _, err := s.repo.List(ctx, tenant, ListFilter{Limit: 10000})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*AccountHead, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}
	var roots []*AccountHead
	for i := range accounts {
		node := &accounts[i]
		if node.ParentID != nil {
			if parent, ok := byID[*node.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Code < roots[j].Code })
	s.cache.Set(ctx, tenant, roots)
	return roots, nil
}

func (s *Service) recordAudit(ctx context.Context, tenant shared.TenantID, actorID int64, action string, id int64, notes string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenant,
		ActorID:  actorID,
		Action:   action,
		Entity:   "account_head",
		EntityID: fmt.Sprintf("%d", id),
		Notes:    notes,
		At:       s.now(),
	})
}
