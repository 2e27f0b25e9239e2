package repository

import (
	"context"

	"gorm.io/gorm"

	"thrivesend/internal/models"
)

// ClientRepository reads the client roster. It doubles as the
// authorization check for operations: a target is actionable only when
// an active client row ties it to the requesting organization.
type ClientRepository struct {
	db *gorm.DB
}

func NewClientRepository(db *gorm.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) ListByOrganization(ctx context.Context, organizationID string) ([]models.Client, error) {
	var clients []models.Client
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", organizationID, true).
		Order("name ASC").
		Find(&clients).Error
	return clients, err
}

// CanAct implements engine.Authorization.
func (r *ClientRepository) CanAct(ctx context.Context, organizationID, clientID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Client{}).
		Where("id = ? AND organization_id = ? AND active = ?", clientID, organizationID, true).
		Count(&n).Error
	return n > 0, err
}
