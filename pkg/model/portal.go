package model

// Portal represents a top-level access boundary. A user either holds an
// enrollment for a portal or sees nothing beneath it.
type Portal struct {
	ID       string `gorm:"column:id;primaryKey" json:"id"`
	Name     string `gorm:"column:name;not null" json:"name"`
	IsActive bool   `gorm:"column:is_active;not null" json:"isActive"`
}

func (Portal) TableName() string {
	return "portals"
}
