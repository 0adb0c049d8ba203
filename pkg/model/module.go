package model

// Module represents a node in a portal's catalog hierarchy.
//
// ParentModuleID is a nullable self reference maintained by external
// authoring flows. It is unvalidated foreign data: cycles and references
// to missing modules do occur and are handled by the tree builder, never
// assumed away.
type Module struct {
	ID             string  `gorm:"column:id;primaryKey" json:"id"`
	PortalID       string  `gorm:"column:portal_id;not null;index" json:"portalId"`
	ParentModuleID *string `gorm:"column:parent_module_id" json:"parentModuleId,omitempty"`
	OrderIndex     int     `gorm:"column:order_index;not null" json:"orderIndex"`
}

func (Module) TableName() string {
	return "modules"
}
