package access

import (
	"context"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/model"
	"github.com/memberhub/accessd/pkg/resolve"
	"github.com/memberhub/accessd/pkg/tree"
)

// ContentView is a content item together with the caller's access verdict.
type ContentView struct {
	Content model.Content `json:"content"`
	Allowed bool          `json:"allowed"`
}

// ModuleView is a module subtree with per-node access verdicts.
type ModuleView struct {
	Module   model.Module  `json:"module"`
	Allowed  bool          `json:"allowed"`
	Contents []ContentView `json:"contents,omitempty"`
	Children []*ModuleView `json:"children,omitempty"`
}

// PortalView is the full visibility picture for one user in one portal.
// An unenrolled user still gets a view; every verdict in it is deny.
type PortalView struct {
	Portal     model.Portal      `json:"portal"`
	Enrolled   bool              `json:"enrolled"`
	Enrollment *model.Enrollment `json:"enrollment,omitempty"`
	Modules    []*ModuleView     `json:"modules"`
	Anomalies  []tree.Anomaly    `json:"anomalies,omitempty"`
}

// Snapshot is the visibility picture for a user across all active portals.
type Snapshot struct {
	UserID  string       `json:"userId"`
	TakenAt time.Time    `json:"takenAt"`
	Portals []PortalView `json:"portals"`
}

// Portal returns the view for portalID, or nil when the snapshot has none.
func (s *Snapshot) Portal(portalID string) *PortalView {
	for i := range s.Portals {
		if s.Portals[i].Portal.ID == portalID {
			return &s.Portals[i]
		}
	}
	return nil
}

// Service computes visibility snapshots. Views are cached per
// (user, portal) so repeated queries between enrollment changes do not
// re-walk the catalog.
type Service struct {
	store enrollment.Store
	cache *lru.Cache[string, *PortalView]
	log   logrus.FieldLogger
}

// NewService builds a Service with an LRU view cache of the given size.
func NewService(store enrollment.Store, cacheSize int, log logrus.FieldLogger) (*Service, error) {
	cache, err := lru.New[string, *PortalView](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, cache: cache, log: log}, nil
}

func cacheKey(userID, portalID string) string {
	return userID + "\x00" + portalID
}

// Invalidate drops the cached view for one (user, portal) pair.
func (s *Service) Invalidate(userID, portalID string) {
	s.cache.Remove(cacheKey(userID, portalID))
}

// InvalidateAll drops every cached view. Used when the change feed
// loses track of what changed and cannot name the affected pairs.
func (s *Service) InvalidateAll() {
	s.cache.Purge()
}

// InvalidateUser drops every cached view for the user.
func (s *Service) InvalidateUser(userID string) {
	prefix := userID + "\x00"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}

// Snapshot computes the user's visibility across all active portals.
// Callers must treat the returned views as read-only; they may be
// shared with other snapshots through the cache.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	portals, err := s.store.ListPortals(ctx, true)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// One active enrollment per portal is the invariant; if the store
	// ever hands back more, keep the newest and let the reconciler
	// flag the rest.
	byPortal := make(map[string]model.Enrollment, len(rows))
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		if held, ok := byPortal[row.PortalID]; ok && held.NewerThan(row) {
			continue
		}
		byPortal[row.PortalID] = row
	}

	snap := &Snapshot{UserID: userID, TakenAt: time.Now().UTC()}
	for _, portal := range portals {
		row, enrolled := byPortal[portal.ID]
		view, err := s.portalView(ctx, userID, portal, row, enrolled)
		if err != nil {
			return nil, err
		}
		snap.Portals = append(snap.Portals, *view)
	}
	sort.Slice(snap.Portals, func(i, j int) bool {
		return snap.Portals[i].Portal.ID < snap.Portals[j].Portal.ID
	})
	return snap, nil
}

// PortalSnapshot computes the view for a single portal. It returns
// enrollment.ErrNotFound when the portal does not exist or is inactive.
func (s *Service) PortalSnapshot(ctx context.Context, userID, portalID string) (*PortalView, error) {
	portals, err := s.store.ListPortals(ctx, true)
	if err != nil {
		return nil, err
	}
	var portal model.Portal
	found := false
	for _, p := range portals {
		if p.ID == portalID {
			portal, found = p, true
			break
		}
	}
	if !found {
		return nil, enrollment.ErrNotFound
	}

	row, err := s.store.Get(ctx, userID, portalID)
	switch {
	case err == nil && row.IsActive:
		return s.portalView(ctx, userID, portal, *row, true)
	case err == nil || err == enrollment.ErrNotFound:
		return s.portalView(ctx, userID, portal, model.Enrollment{}, false)
	default:
		return nil, err
	}
}

func (s *Service) portalView(ctx context.Context, userID string, portal model.Portal, row model.Enrollment, enrolled bool) (*PortalView, error) {
	key := cacheKey(userID, portal.ID)
	if view, ok := s.cache.Get(key); ok {
		return view, nil
	}

	modules, err := s.store.ListModules(ctx, portal.ID)
	if err != nil {
		return nil, err
	}
	contents, err := s.store.ListContents(ctx, portal.ID)
	if err != nil {
		return nil, err
	}
	forest := tree.Build(modules, contents)

	resolver := resolve.Deny()
	if enrolled {
		resolver = resolve.New(row.Permissions)
	}

	view := &PortalView{
		Portal:    portal,
		Enrolled:  enrolled,
		Modules:   buildModuleViews(forest.Roots, resolver),
		Anomalies: forest.Anomalies,
	}
	if enrolled {
		held := row
		view.Enrollment = &held
	}
	if len(forest.Anomalies) > 0 {
		s.log.WithFields(logrus.Fields{
			"portal":    portal.ID,
			"anomalies": len(forest.Anomalies),
		}).Warn("portal catalog has unreachable modules")
	}

	s.cache.Add(key, view)
	return view, nil
}

func buildModuleViews(nodes []*tree.Node, resolver resolve.Resolver) []*ModuleView {
	views := make([]*ModuleView, 0, len(nodes))
	for _, node := range nodes {
		view := &ModuleView{
			Module:  node.Module,
			Allowed: resolver.Module(node.Module.ID),
		}
		for _, content := range node.Contents {
			view.Contents = append(view.Contents, ContentView{
				Content: content,
				Allowed: resolver.Content(content.ID),
			})
		}
		view.Children = buildModuleViews(node.Children, resolver)
		views = append(views, view)
	}
	return views
}
