package models

import "time"

// Client is a managed client account belonging to a service-provider
// organization. It backs both the available-clients listing and the
// per-target authorization check on operation create.
type Client struct {
	ID             string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;size:64;index" json:"organizationId"`
	Name           string    `gorm:"column:name;size:255" json:"name"`
	Type           string    `gorm:"column:type;size:50" json:"type"`
	Timezone       string    `gorm:"column:timezone;size:64" json:"timezone"`
	ContentCount   int       `gorm:"column:content_count;default:0" json:"contentCount"`
	Active         bool      `gorm:"column:active;default:true" json:"active"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Client) TableName() string {
	return "clients"
}
