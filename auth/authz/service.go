// Package authz implements RBAC+ABAC authorization with tenant-ancestor
// inheritance and a two-tier cache (component C6).
package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/kv"
	"gorm.io/gorm"
)

// actionHierarchy records which actions an action implies. admin implies
// manage, write and read; manage implies write and read; write implies
// read. A grant or role carrying a broader action satisfies a narrower
// check automatically.
var actionHierarchy = map[string][]string{
	"admin":  {"manage", "write", "read"},
	"manage": {"write", "read"},
	"write":  {"read"},
	"read":   {},
}

func actionSatisfies(have, want string) bool {
	if have == want {
		return true
	}
	for _, implied := range actionHierarchy[have] {
		if implied == want {
			return true
		}
	}
	return false
}

// Service implements core.Authorizer by combining Casbin-backed RBAC
// role assignment, direct per-resource permission grants, and an ABAC
// predicate evaluator, with tenant-ancestor roles/grants inherited down
// the tree.
type Service struct {
	db       *gorm.DB
	enforcer *casbin.Enforcer
	// enforcerMu serializes every ClearPolicy+reload+query sequence
	// against the shared enforcer. Casbin's Enforcer is not safe for
	// concurrent policy swaps, and the request model (§5) authorizes
	// concurrently across tenants on this one instance.
	enforcerMu sync.Mutex

	tenants core.TenantStore
	grants  core.PermissionGrantStore
	roleDefs core.RoleDefinitionStore
	policies core.PolicyStore

	kv    kv.Store
	clock core.Clock

	l1    sync.Map // cacheKey -> *cacheEntry
	l1TTL time.Duration
	l2TTL time.Duration
}

type cacheEntry struct {
	roles     []string
	expiresAt time.Time
}

// NewService creates a new authorization service.
func NewService(db *gorm.DB, tenants core.TenantStore, grants core.PermissionGrantStore, roleDefs core.RoleDefinitionStore, policies core.PolicyStore, kvStore kv.Store, clock core.Clock) (*Service, error) {
	m, err := model.NewModelFromString(`
		[request_definition]
		r = sub, dom, obj, act

		[policy_definition]
		p = sub, dom, obj, act

		[role_definition]
		g = _, _, _

		[policy_effect]
		e = some(where (p.eft == allow))

		[matchers]
		m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
	`)
	if err != nil {
		return nil, fmt.Errorf("create casbin model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	return &Service{
		db:       db,
		enforcer: enforcer,
		tenants:  tenants,
		grants:   grants,
		roleDefs: roleDefs,
		policies: policies,
		kv:       kvStore,
		clock:    clock,
		l1TTL:    time.Minute,
		l2TTL:    5 * time.Minute,
	}, nil
}

// Authorize checks whether userID may perform action on the given
// resource within tenantID, combining direct grants, inherited RBAC
// roles, and ABAC policy overlays, and returns the full provenance of
// the verdict (§4.6/§7: a Forbidden response carries {required,
// source}). An explicit ABAC deny always wins over a grant or role.
func (s *Service) Authorize(ctx context.Context, tenantID, userID, resourceType, resourceID, action string, attrs map[string]interface{}) (*core.Decision, error) {
	granted, err := s.checkGrants(ctx, tenantID, userID, resourceType, resourceID, action)
	if err != nil {
		return nil, err
	}

	var decision *core.Decision
	if granted {
		decision = &core.Decision{Allowed: true, Source: "grant", Reason: "direct_grant"}
	} else {
		decision, err = s.roleDecision(ctx, tenantID, userID, resourceType, action)
		if err != nil {
			return nil, err
		}
	}

	return s.applyPolicies(ctx, tenantID, resourceType, action, attrs, decision)
}

// checkGrants walks tenantID and the ancestors userID holds owner/admin
// in, looking for a direct permission grant matching the resource and
// an action that satisfies the request.
func (s *Service) checkGrants(ctx context.Context, tenantID, userID, resourceType, resourceID, action string) (bool, error) {
	for _, tid := range s.tenantChain(ctx, tenantID, userID) {
		grants, err := s.grants.ListForUser(ctx, tid, userID)
		if err != nil {
			return false, err
		}
		for _, g := range grants {
			if g.ResourceType != resourceType {
				continue
			}
			if g.ResourceID != "" && g.ResourceID != resourceID {
				continue
			}
			if actionSatisfies(g.Action, action) {
				return true, nil
			}
		}
	}
	return false, nil
}

// roleDecision resolves an RBAC verdict for resourceType/action across
// tenantID and its owner/admin-inherited ancestors (§4.6 step 3),
// recording which tenant in the chain supplied the grant.
func (s *Service) roleDecision(ctx context.Context, tenantID, userID, resourceType, action string) (*core.Decision, error) {
	for _, tid := range s.tenantChain(ctx, tenantID, userID) {
		roles, err := s.directRoles(ctx, tid, userID)
		if err != nil {
			return nil, err
		}
		ok, err := s.checkRoles(ctx, tid, roles, resourceType, action)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if tid == tenantID {
			return &core.Decision{Allowed: true, Source: "role", Reason: "role"}, nil
		}
		return &core.Decision{Allowed: true, Source: "inherited", Reason: "inherited_role", AncestorID: tid}, nil
	}
	return &core.Decision{Allowed: false, Source: "default", Reason: "default_deny"}, nil
}

// checkRoles reports whether any of roles, looked up as a role
// definition in tenantID, lists an action that satisfies action via the
// action hierarchy. resourceType is not consulted: a role's actions
// apply to every resource type.
func (s *Service) checkRoles(ctx context.Context, tenantID string, roles []string, resourceType, action string) (bool, error) {
	for _, role := range roles {
		def, err := s.roleDefs.GetByName(ctx, tenantID, role)
		if err != nil {
			continue
		}
		for _, have := range def.Actions {
			if actionSatisfies(have, action) {
				return true, nil
			}
		}
	}
	return false, nil
}

// policyEvalBudget bounds a single condition evaluation (§4.6: policy
// evaluation is budgeted so one pathological regex or condition tree
// can't stall the request).
const policyEvalBudget = time.Second

// evaluateConditionWithBudget runs evaluateCondition off-goroutine so a
// runaway regex (the "matches" operator compiles caller-supplied
// patterns) can't block the calling request past policyEvalBudget.
func evaluateConditionWithBudget(condition map[string]interface{}, ec evalContext) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ok, err := evaluateCondition(condition, ec)
		ch <- result{ok, err}
	}()
	select {
	case r := <-ch:
		return r.ok, r.err
	case <-time.After(policyEvalBudget):
		return false, fmt.Errorf("policy condition evaluation exceeded budget")
	}
}

// applyPolicies overlays ABAC policies for resourceType/action on top
// of baseline: an explicit deny whose condition matches always wins; an
// explicit allow whose condition matches can grant access even if
// baseline did not, and its provenance replaces baseline's.
func (s *Service) applyPolicies(ctx context.Context, tenantID, resourceType, action string, attrs map[string]interface{}, baseline *core.Decision) (*core.Decision, error) {
	policies, err := s.policies.ListForResource(ctx, tenantID, resourceType, action)
	if err != nil {
		return nil, err
	}

	decision := *baseline
	ec := evalContext{attrs: attrs, now: s.clock.Now()}

	for _, p := range policies {
		if p.Status != "active" {
			continue
		}
		matched, err := evaluateConditionWithBudget(p.Condition, ec)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if !matched {
			continue
		}
		decision.PoliciesEvaluated++

		switch p.Effect {
		case "deny":
			decision.Allowed = false
			decision.Source = "abac"
			decision.Reason = "abac_deny"
			return &decision, nil
		case "allow":
			decision.Allowed = true
			decision.Source = "abac"
			decision.Reason = "abac_allow"
		}
	}
	return &decision, nil
}

// AuthorizeMany evaluates a batch of permission checks for one user.
func (s *Service) AuthorizeMany(ctx context.Context, tenantID, userID string, checks []core.PermissionCheck) ([]bool, error) {
	results := make([]bool, len(checks))
	for i, c := range checks {
		d, err := s.Authorize(ctx, tenantID, userID, c.ResourceType, c.ResourceID, c.Action, c.Attrs)
		if err != nil {
			return nil, err
		}
		results[i] = d.Allowed
	}
	return results, nil
}

// PermissionMatrix evaluates every (resourceID, action) pair for userID.
func (s *Service) PermissionMatrix(ctx context.Context, tenantID, userID string, resourceType string, resourceIDs []string, actions []string) (map[string]map[string]bool, error) {
	matrix := make(map[string]map[string]bool, len(resourceIDs))
	for _, rid := range resourceIDs {
		row := make(map[string]bool, len(actions))
		for _, action := range actions {
			d, err := s.Authorize(ctx, tenantID, userID, resourceType, rid, action, nil)
			if err != nil {
				return nil, err
			}
			row[action] = d.Allowed
		}
		matrix[rid] = row
	}
	return matrix, nil
}

func cacheKey(tenantID, userID string) string {
	return "authz-roles:" + tenantID + ":" + userID
}

// RolesForUser returns the union of roles assigned to userID in
// tenantID and in those of its ancestors where userID holds owner or
// admin (see tenantChain), consulting the L1 (in-process) then L2
// (kv-backed) cache before falling back to Casbin.
func (s *Service) RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	key := cacheKey(tenantID, userID)

	if v, ok := s.l1.Load(key); ok {
		entry := v.(*cacheEntry)
		if s.clock.Now().Before(entry.expiresAt) {
			return entry.roles, nil
		}
		s.l1.Delete(key)
	}

	if cached, ok, err := s.kv.Get(ctx, key); err == nil && ok {
		roles := splitRoles(cached)
		s.l1.Store(key, &cacheEntry{roles: roles, expiresAt: s.clock.Now().Add(s.l1TTL)})
		return roles, nil
	}

	roleSet := map[string]struct{}{}
	for _, tid := range s.tenantChain(ctx, tenantID, userID) {
		roles, err := s.directRoles(ctx, tid, userID)
		if err != nil {
			return nil, err
		}
		for _, r := range roles {
			roleSet[r] = struct{}{}
		}
	}

	roles := make([]string, 0, len(roleSet))
	for r := range roleSet {
		roles = append(roles, r)
	}

	s.l1.Store(key, &cacheEntry{roles: roles, expiresAt: s.clock.Now().Add(s.l1TTL)})
	_ = s.kv.Set(ctx, key, joinRoles(roles), s.l2TTL)

	return roles, nil
}

// directRoles returns the roles Casbin binds userID to within tenantID
// alone (no ancestor walk), under enforcerMu so the ClearPolicy+reload+
// query sequence against the shared enforcer can't interleave with a
// concurrent call for a different tenant.
func (s *Service) directRoles(ctx context.Context, tenantID, userID string) ([]string, error) {
	s.enforcerMu.Lock()
	defer s.enforcerMu.Unlock()

	if err := s.loadPolicies(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.enforcer.GetRolesForUser(fmt.Sprintf("user:%s", userID), tenantID)
}

func hasOwnerOrAdmin(roles []string) bool {
	for _, r := range roles {
		if r == "owner" || r == "admin" {
			return true
		}
	}
	return false
}

// tenantChain returns tenantID followed by the ancestors userID holds
// owner or admin in (§4.6 step 3: inheritance from an ancestor tenant
// requires an owner/admin binding there, not mere membership).
func (s *Service) tenantChain(ctx context.Context, tenantID, userID string) []string {
	chain := []string{tenantID}
	ancestors, err := s.tenants.Ancestors(ctx, tenantID)
	if err != nil {
		return chain
	}
	for _, a := range ancestors {
		roles, err := s.directRoles(ctx, a.ID, userID)
		if err != nil {
			continue
		}
		if hasOwnerOrAdmin(roles) {
			chain = append(chain, a.ID)
		}
	}
	return chain
}

// AddPolicy adds a Casbin policy or grouping row and invalidates the
// affected user's cache when it is a grouping ("g") row.
func (s *Service) AddPolicy(ctx context.Context, tenantID string, policy core.RbacTuple) error {
	tuple := &core.RbacTuple{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		TupleType: policy.TupleType,
		V0:        policy.V0,
		V1:        policy.V1,
		V2:        policy.V2,
		V3:        policy.V3,
		V4:        policy.V4,
		V5:        policy.V5,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(tuple).Error; err != nil {
		return err
	}
	if tuple.TupleType == "g" {
		s.InvalidateCache(ctx, tenantID, subjectToUserID(tuple.V0))
	}
	return nil
}

// RemovePolicy removes a policy by ID.
func (s *Service) RemovePolicy(ctx context.Context, tenantID string, policyID string) error {
	var tuple core.RbacTuple
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", policyID, tenantID).First(&tuple).Error; err == nil {
		if tuple.TupleType == "g" {
			defer s.InvalidateCache(ctx, tenantID, subjectToUserID(tuple.V0))
		}
	}
	return s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", policyID, tenantID).Delete(&core.RbacTuple{}).Error
}

// ListPolicies lists Casbin policy/grouping rows with optional filters.
func (s *Service) ListPolicies(ctx context.Context, tenantID string, filters core.RbacFilters) ([]core.RbacTuple, string, error) {
	var tuples []core.RbacTuple
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")

	if filters.TupleType != nil {
		query = query.Where("tuple_type = ?", *filters.TupleType)
	}
	if filters.V0 != nil {
		query = query.Where("v0 = ?", *filters.V0)
	}
	if filters.V1 != nil {
		query = query.Where("v1 = ?", *filters.V1)
	}
	if filters.V2 != nil {
		query = query.Where("v2 = ?", *filters.V2)
	}
	if filters.V3 != nil {
		query = query.Where("v3 = ?", *filters.V3)
	}

	if err := query.Find(&tuples).Error; err != nil {
		return nil, "", err
	}
	return tuples, "", nil
}

// InvalidateCache drops the cached role set for tenantID/userID from
// both tiers, forcing the next RolesForUser call to recompute it.
func (s *Service) InvalidateCache(ctx context.Context, tenantID, userID string) {
	key := cacheKey(tenantID, userID)
	s.l1.Delete(key)
	_ = s.kv.Del(ctx, key)
}

func subjectToUserID(subject string) string {
	const prefix = "user:"
	if len(subject) > len(prefix) && subject[:len(prefix)] == prefix {
		return subject[len(prefix):]
	}
	return subject
}

// loadPolicies loads tenantID's Casbin rows into the enforcer, replacing
// whatever was loaded for a previous tenant.
func (s *Service) loadPolicies(ctx context.Context, tenantID string) error {
	var tuples []core.RbacTuple
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&tuples).Error; err != nil {
		return err
	}

	s.enforcer.ClearPolicy()

	for _, t := range tuples {
		if t.TupleType == "p" {
			v3 := ""
			if t.V3 != nil {
				v3 = *t.V3
			}
			if _, err := s.enforcer.AddPolicy(t.V0, t.V1, t.V2, v3); err != nil {
				return err
			}
		} else if t.TupleType == "g" {
			if _, err := s.enforcer.AddGroupingPolicy(t.V0, t.V1, t.V2); err != nil {
				return err
			}
		}
	}

	return nil
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}
