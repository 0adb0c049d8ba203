package model

// Content represents a leaf item in the catalog. It always belongs to
// exactly one module.
type Content struct {
	ID       string `gorm:"column:id;primaryKey" json:"id"`
	ModuleID string `gorm:"column:module_id;not null;index" json:"moduleId"`
}

func (Content) TableName() string {
	return "contents"
}
