package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
)

// defaultMaxDepth bounds the tenant tree when a tenant does not set its
// own MaxDepth (0 means "use the default").
const defaultMaxDepth = 5

// Service implements core.TenantService over the materialized-path
// hierarchy maintained by the store layer.
type Service struct {
	tenants core.TenantStore
	clock   core.Clock
}

// NewService creates a new tenant hierarchy service.
func NewService(tenants core.TenantStore, clock core.Clock) *Service {
	return &Service{tenants: tenants, clock: clock}
}

// Create adds a new tenant under parentID (nil for a root tenant),
// rejecting the create if it would exceed the parent's configured
// max-depth.
func (s *Service) Create(ctx context.Context, parentID *string, slug, name string) (*core.Tenant, error) {
	path := []string{}
	depth := 0
	maxDepth := defaultMaxDepth

	if parentID != nil {
		parent, err := s.tenants.GetByID(ctx, *parentID)
		if err != nil {
			return nil, core.NewError(core.ErrNotFound, "parent tenant not found", err)
		}
		if parent.MaxDepth > 0 {
			maxDepth = parent.MaxDepth
		}
		if parent.Depth+1 >= maxDepth {
			return nil, core.NewError(core.ErrValidation, "tenant hierarchy max depth exceeded", nil)
		}
		path = append(path, parent.Path...)
		depth = parent.Depth + 1
	}

	if existing, err := s.tenants.GetBySlug(ctx, parentID, slug); err == nil && existing != nil {
		return nil, core.NewError(core.ErrConflict, "slug already in use under this parent", nil)
	}

	now := s.clock.Now()
	t := &core.Tenant{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Depth:     depth,
		Slug:      slug,
		Name:      name,
		Status:    "active",
		MaxDepth:  maxDepth,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.Path = append(path, t.ID)

	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Move reparents a tenant (and its whole subtree, handled by the store).
func (s *Service) Move(ctx context.Context, id string, newParentID *string) error {
	if newParentID != nil && *newParentID == id {
		return core.NewError(core.ErrValidation, "a tenant cannot be its own parent", nil)
	}
	if newParentID != nil {
		descendants, err := s.tenants.Descendants(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range descendants {
			if d.ID == *newParentID {
				return core.NewError(core.ErrValidation, "cannot move a tenant under its own descendant", nil)
			}
		}
	}
	return s.tenants.Move(ctx, id, newParentID)
}

// Archive marks a tenant (but not its subtree) as archived.
func (s *Service) Archive(ctx context.Context, id string) error {
	return s.tenants.Archive(ctx, id)
}

// Delete permanently removes a leaf tenant. Callers are expected to have
// already moved or archived any descendants.
func (s *Service) Delete(ctx context.Context, id string) error {
	children, err := s.tenants.Children(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return core.NewError(core.ErrConflict, "tenant has children, move or delete them first", nil)
	}
	return s.tenants.Delete(ctx, id)
}

// Ancestors returns id's ancestor chain, root first.
func (s *Service) Ancestors(ctx context.Context, id string) ([]*core.Tenant, error) {
	return s.tenants.Ancestors(ctx, id)
}

// Descendants returns every tenant in id's subtree.
func (s *Service) Descendants(ctx context.Context, id string) ([]*core.Tenant, error) {
	return s.tenants.Descendants(ctx, id)
}

// Children returns id's direct children.
func (s *Service) Children(ctx context.Context, id string) ([]*core.Tenant, error) {
	return s.tenants.Children(ctx, id)
}

// CommonAncestor returns the deepest tenant that is an ancestor (or self)
// of both idA and idB, comparing materialized paths.
func (s *Service) CommonAncestor(ctx context.Context, idA, idB string) (*core.Tenant, error) {
	a, err := s.tenants.GetByID(ctx, idA)
	if err != nil {
		return nil, core.NewError(core.ErrNotFound, "tenant not found", err)
	}
	b, err := s.tenants.GetByID(ctx, idB)
	if err != nil {
		return nil, core.NewError(core.ErrNotFound, "tenant not found", err)
	}

	var commonID string
	for i := 0; i < len(a.Path) && i < len(b.Path); i++ {
		if a.Path[i] != b.Path[i] {
			break
		}
		commonID = a.Path[i]
	}
	if commonID == "" {
		return nil, core.NewError(core.ErrNotFound, "tenants share no common ancestor", nil)
	}
	return s.tenants.GetByID(ctx, commonID)
}

// Distance returns the number of hops along the tree between idA and idB
// (through their common ancestor).
func (s *Service) Distance(ctx context.Context, idA, idB string) (int, error) {
	a, err := s.tenants.GetByID(ctx, idA)
	if err != nil {
		return 0, core.NewError(core.ErrNotFound, "tenant not found", err)
	}
	b, err := s.tenants.GetByID(ctx, idB)
	if err != nil {
		return 0, core.NewError(core.ErrNotFound, "tenant not found", err)
	}

	common, err := s.CommonAncestor(ctx, idA, idB)
	if err != nil {
		return 0, err
	}
	return (a.Depth - common.Depth) + (b.Depth - common.Depth), nil
}
