package outbox

import (
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

const maxDLQErrorLen = 1024

// DLQRepository stores events the publisher gave up on.
type DLQRepository struct{}

func NewDLQRepository() *DLQRepository {
	return &DLQRepository{}
}

// InsertTx records a dead-lettered event; long error messages are cut.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		msg := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}
