package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EntityLoan    = "loan"
	EntityOrder   = "order"
	EntityListing = "listing"
)

// Event is the audit trail of a loan or order transition, written in the same
// transaction as the transition itself.
type Event struct {
	EventID    uuid.UUID      `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	EntityType string         `gorm:"column:entity_type;type:varchar(20);not null;index:idx_events_entity" json:"entity_type"`
	EntityID   uuid.UUID      `gorm:"column:entity_id;type:uuid;not null;index:idx_events_entity" json:"entity_id"`
	EventType  string         `gorm:"column:event_type;type:varchar(40);not null" json:"event_type"`
	ActorID    *uuid.UUID     `gorm:"column:actor_id;type:uuid" json:"actor_id"`
	EventData  datatypes.JSON `gorm:"column:event_data;not null" json:"event_data"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	return nil
}
