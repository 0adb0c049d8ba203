package resolve

import "github.com/memberhub/accessd/pkg/model"

// AllowsModule reports whether the permission grants access to the
// module: everything is granted, or the id is explicitly allowed.
func AllowsModule(p model.Permission, moduleID string) bool {
	return p.AccessAllModules || p.HasModule(moduleID)
}

// AllowsContent reports whether the permission grants access to the
// content item. The parent module's grant plays no part here.
func AllowsContent(p model.Permission, contentID string) bool {
	return p.AccessAllModules || p.HasContent(contentID)
}

// Resolver is a compiled permission for repeated lookups over a whole
// forest. Lookups are O(1); building it is the only allocation.
type Resolver struct {
	all      bool
	modules  map[string]struct{}
	contents map[string]struct{}
}

// New compiles a permission. The zero Permission compiles to deny-all.
func New(p model.Permission) Resolver {
	r := Resolver{
		all:      p.AccessAllModules,
		modules:  make(map[string]struct{}, len(p.AllowedModules)),
		contents: make(map[string]struct{}, len(p.AllowedContents)),
	}
	for _, id := range p.AllowedModules {
		r.modules[id] = struct{}{}
	}
	for _, id := range p.AllowedContents {
		r.contents[id] = struct{}{}
	}
	return r
}

// Deny is a resolver that grants nothing. Used for portals the user
// holds no enrollment for, so missing grants fail closed.
func Deny() Resolver {
	return Resolver{}
}

// Module reports whether the module id is granted.
func (r Resolver) Module(id string) bool {
	if r.all {
		return true
	}
	_, ok := r.modules[id]
	return ok
}

// Content reports whether the content id is granted.
func (r Resolver) Content(id string) bool {
	if r.all {
		return true
	}
	_, ok := r.contents[id]
	return ok
}
