package authz

import (
	"errors"
	"fmt"
	"sync"
)

// MaxHierarchyDepth bounds a role's inheritance chain, counting the
// role itself.
const MaxHierarchyDepth = 10

var (
	// ErrRoleNotFound is returned when a role name is not defined.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when defining a role whose name is taken.
	ErrRoleExists = errors.New("role already defined")
	// ErrRoleProtected is returned when mutating or deleting a protected
	// role.
	ErrRoleProtected = errors.New("role is protected")
	// ErrRoleInUse is returned when deleting a role that accounts still
	// hold.
	ErrRoleInUse = errors.New("role is assigned to accounts")
	// ErrHierarchyCycle is returned when a parent edge would close a
	// loop.
	ErrHierarchyCycle = errors.New("role hierarchy cycle")
	// ErrHierarchyTooDeep is returned when an inheritance chain would
	// exceed MaxHierarchyDepth.
	ErrHierarchyTooDeep = errors.New("role hierarchy too deep")
)

// Role is a named bundle of permissions with single inheritance.
// Protected roles cannot be modified or deleted after definition.
type Role struct {
	Name        string
	Description string
	Permissions []string
	Parent      string
	Protected   bool
}

// Registry holds the role definitions. All mutation rules are enforced
// at write time, so reads never have to defend against cycles.
type Registry struct {
	catalog Catalog

	mu      sync.RWMutex
	roles   map[string]Role
	version uint64
}

// NewRegistry returns an empty Registry validating against catalog.
func NewRegistry(catalog Catalog) *Registry {
	return &Registry{
		catalog: catalog,
		roles:   make(map[string]Role),
	}
}

// Define adds a new role.
func (r *Registry) Define(role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if role.Name == "" {
		return errors.New("role name cannot be empty")
	}
	if _, exists := r.roles[role.Name]; exists {
		return fmt.Errorf("%w: %s", ErrRoleExists, role.Name)
	}
	if err := r.validateLocked(role); err != nil {
		return err
	}

	r.roles[role.Name] = role
	r.version++
	return nil
}

// Update replaces an existing role's definition. Protected roles are
// immutable.
func (r *Registry) Update(role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.roles[role.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, role.Name)
	}
	if existing.Protected {
		return fmt.Errorf("%w: %s", ErrRoleProtected, role.Name)
	}
	if err := r.validateLocked(role); err != nil {
		return err
	}
	// The new parent edge must not deepen any chain that runs through
	// this role past the bound.
	if depth := r.subtreeDepthLocked(role.Name); depth+r.chainLengthLocked(role.Parent) > MaxHierarchyDepth {
		return fmt.Errorf("%w: %s", ErrHierarchyTooDeep, role.Name)
	}

	r.roles[role.Name] = role
	r.version++
	return nil
}

// remove is called by the Authorizer after its in-use check.
func (r *Registry) remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, ok := r.roles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if role.Protected {
		return fmt.Errorf("%w: %s", ErrRoleProtected, name)
	}
	for _, other := range r.roles {
		if other.Parent == name {
			return fmt.Errorf("%w: %s is parent of %s", ErrRoleInUse, name, other.Name)
		}
	}

	delete(r.roles, name)
	r.version++
	return nil
}

// Get returns the named role.
func (r *Registry) Get(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	return role, ok
}

// Names returns the defined role names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	return names
}

// Version increments on every successful mutation. Cached resolutions
// keyed on it go stale the moment a definition changes.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// EffectivePermissions unions the role's own permissions with its
// ancestors', wildcards expanded against the catalog.
func (r *Registry) EffectivePermissions(name string) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perms := make(map[string]struct{})
	current := name
	for depth := 0; current != ""; depth++ {
		if depth >= MaxHierarchyDepth {
			return nil, fmt.Errorf("%w: %s", ErrHierarchyTooDeep, name)
		}
		role, ok := r.roles[current]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, current)
		}
		for _, p := range role.Permissions {
			for _, expanded := range r.catalog.Expand(p) {
				perms[expanded] = struct{}{}
			}
		}
		current = role.Parent
	}
	return perms, nil
}

func (r *Registry) validateLocked(role Role) error {
	for _, p := range role.Permissions {
		if err := r.catalog.Validate(p); err != nil {
			return err
		}
	}
	if role.Parent == "" {
		return nil
	}
	if role.Parent == role.Name {
		return fmt.Errorf("%w: %s is its own parent", ErrHierarchyCycle, role.Name)
	}
	if _, ok := r.roles[role.Parent]; !ok {
		return fmt.Errorf("%w: parent %s", ErrRoleNotFound, role.Parent)
	}

	// Walk the new parent chain. Reaching the role itself closes a
	// cycle; the walk is bounded so a corrupt chain cannot spin.
	current := role.Parent
	for depth := 1; current != ""; depth++ {
		if current == role.Name {
			return fmt.Errorf("%w: via %s", ErrHierarchyCycle, role.Parent)
		}
		if depth >= MaxHierarchyDepth {
			return fmt.Errorf("%w: %s", ErrHierarchyTooDeep, role.Name)
		}
		parent, ok := r.roles[current]
		if !ok {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, current)
		}
		current = parent.Parent
	}
	return nil
}

// chainLengthLocked counts the chain from name up to the root,
// inclusive.
func (r *Registry) chainLengthLocked(name string) int {
	n := 0
	for current := name; current != "" && n <= MaxHierarchyDepth; n++ {
		role, ok := r.roles[current]
		if !ok {
			break
		}
		current = role.Parent
	}
	return n
}

// subtreeDepthLocked returns the longest descendant chain rooted at
// name, counting name itself.
func (r *Registry) subtreeDepthLocked(name string) int {
	deepest := 1
	for _, role := range r.roles {
		if role.Parent != name {
			continue
		}
		if d := 1 + r.subtreeDepthLocked(role.Name); d > deepest {
			deepest = d
		}
	}
	return deepest
}
