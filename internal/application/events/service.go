package events

import (
	"context"
	"encoding/json"
	"fmt"

	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	DB *gorm.DB
}

// Record appends an audit event inside the caller's transaction.
func Record(tx *gorm.DB, entityType string, entityID uuid.UUID, eventType string, actor *domain.Actor, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	ev := &domain.Event{
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		EventData:  datatypes.JSON(b),
	}
	if actor != nil {
		id := actor.UserID
		ev.ActorID = &id
	}
	return tx.Create(ev).Error
}

// ForEntity returns an entity's events, oldest first.
func (s *Service) ForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]domain.Event, error) {
	var out []domain.Event
	err := s.DB.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
