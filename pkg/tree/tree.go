package tree

import (
	"fmt"
	"sort"

	"github.com/memberhub/accessd/pkg/model"
)

// Anomaly reasons reported by Build.
const (
	ReasonDanglingParent = "dangling_parent"
	ReasonCycle          = "cycle"
)

// Anomaly describes a module that could not be attached to the forest.
type Anomaly struct {
	ModuleID string `json:"moduleId"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail"`
}

// Node is one module in the forest, holding its contents and child
// modules. Children are ordered by OrderIndex, then id.
type Node struct {
	Module   model.Module
	Contents []model.Content
	Children []*Node
}

// Edge is one (module, parent) pair produced by Flatten.
type Edge struct {
	ModuleID       string
	ParentModuleID *string
}

// Forest is the assembled hierarchy for one portal.
type Forest struct {
	Roots     []*Node
	Anomalies []Anomaly

	index map[string]*Node
}

// Build assembles modules and contents into a forest. Every module with
// a valid, acyclic parent chain appears exactly once; the rest end up in
// Anomalies. Contents referencing a module outside the forest are
// dropped with that module's branch.
func Build(modules []model.Module, contents []model.Content) *Forest {
	f := &Forest{index: make(map[string]*Node, len(modules))}

	arena := make(map[string]*Node, len(modules))
	childIDs := make(map[string][]string)
	var rootIDs []string
	for _, m := range modules {
		arena[m.ID] = &Node{Module: m}
		if m.ParentModuleID == nil {
			rootIDs = append(rootIDs, m.ID)
		} else {
			childIDs[*m.ParentModuleID] = append(childIDs[*m.ParentModuleID], m.ID)
		}
	}

	for moduleID, cs := range groupContents(contents) {
		if n, ok := arena[moduleID]; ok {
			n.Contents = cs
		}
	}

	// Iterative attach from the roots. Each module names a single parent,
	// so a revisit means corrupted input; abort that branch only.
	visited := make(map[string]struct{}, len(modules))
	stack := append([]string(nil), rootIDs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[id]; seen {
			f.Anomalies = append(f.Anomalies, Anomaly{
				ModuleID: id,
				Reason:   ReasonCycle,
				Detail:   fmt.Sprintf("module %q revisited while attaching children", id),
			})
			continue
		}
		visited[id] = struct{}{}

		node := arena[id]
		f.index[id] = node
		for _, childID := range childIDs[id] {
			node.Children = append(node.Children, arena[childID])
			stack = append(stack, childID)
		}
		sortChildren(node)
	}

	// Whatever the walk never reached is either pointing at a missing
	// module or trapped in a cycle.
	for _, m := range modules {
		if _, ok := visited[m.ID]; ok {
			continue
		}
		if m.ParentModuleID != nil {
			if _, parentExists := arena[*m.ParentModuleID]; !parentExists {
				f.Anomalies = append(f.Anomalies, Anomaly{
					ModuleID: m.ID,
					Reason:   ReasonDanglingParent,
					Detail:   fmt.Sprintf("parent module %q does not exist", *m.ParentModuleID),
				})
				continue
			}
		}
		f.Anomalies = append(f.Anomalies, Anomaly{
			ModuleID: m.ID,
			Reason:   ReasonCycle,
			Detail:   fmt.Sprintf("parent chain of module %q does not reach a root", m.ID),
		})
	}

	for _, id := range rootIDs {
		f.Roots = append(f.Roots, arena[id])
	}
	sort.Slice(f.Roots, func(i, j int) bool { return less(f.Roots[i], f.Roots[j]) })
	sort.Slice(f.Anomalies, func(i, j int) bool { return f.Anomalies[i].ModuleID < f.Anomalies[j].ModuleID })

	return f
}

// Node returns the attached node for a module id in O(1).
func (f *Forest) Node(id string) (*Node, bool) {
	n, ok := f.index[id]
	return n, ok
}

// Len reports how many modules were attached.
func (f *Forest) Len() int {
	return len(f.index)
}

// Flatten reproduces the acyclic (module, parent) subset of the input.
func (f *Forest) Flatten() []Edge {
	edges := make([]Edge, 0, len(f.index))
	for _, n := range f.index {
		edges = append(edges, Edge{ModuleID: n.Module.ID, ParentModuleID: n.Module.ParentModuleID})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ModuleID < edges[j].ModuleID })
	return edges
}

// Walk visits every attached node depth-first, parents before children.
func (f *Forest) Walk(visit func(*Node)) {
	var walk func(*Node)
	walk = func(n *Node) {
		visit(n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range f.Roots {
		walk(r)
	}
}

func groupContents(contents []model.Content) map[string][]model.Content {
	byModule := make(map[string][]model.Content)
	for _, c := range contents {
		byModule[c.ModuleID] = append(byModule[c.ModuleID], c)
	}
	return byModule
}

func sortChildren(n *Node) {
	sort.SliceStable(n.Children, func(i, j int) bool { return less(n.Children[i], n.Children[j]) })
}

func less(a, b *Node) bool {
	if a.Module.OrderIndex != b.Module.OrderIndex {
		return a.Module.OrderIndex < b.Module.OrderIndex
	}
	return a.Module.ID < b.Module.ID
}
