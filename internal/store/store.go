// Package store provides database access for peer registrations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"gorm.io/gorm"
)

type RegistrationStore struct {
	DB *gorm.DB
}

func NewRegistrationStore(gdb *gorm.DB) *RegistrationStore {
	return &RegistrationStore{DB: gdb}
}

// Claim records peerID as held. It reports false when the id is already
// held by someone else.
func (rs *RegistrationStore) Claim(ctx context.Context, peerID, remoteAddr string) (bool, error) {
	claimed := false
	err := rs.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := db.Registration{}
		err := tx.Where("peer_id = ?", peerID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		reg := db.Registration{
			PeerID:      peerID,
			RemoteAddr:  remoteAddr,
			ConnectedAt: time.Now().Unix(),
		}
		if err := tx.Create(&reg).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (rs *RegistrationStore) Release(ctx context.Context, peerID string) error {
	return rs.DB.WithContext(ctx).Where("peer_id = ?", peerID).Delete(&db.Registration{}).Error
}

func (rs *RegistrationStore) Exists(ctx context.Context, peerID string) (bool, error) {
	var count int64
	err := rs.DB.WithContext(ctx).Model(&db.Registration{}).Where("peer_id = ?", peerID).Count(&count).Error
	return count > 0, err
}

func (rs *RegistrationStore) List(ctx context.Context) ([]db.Registration, error) {
	regs := []db.Registration{}
	err := rs.DB.WithContext(ctx).Order("connected_at, id").Find(&regs).Error
	return regs, err
}

// DropAll clears registrations left over from a previous run.
func (rs *RegistrationStore) DropAll(ctx context.Context) error {
	return rs.DB.WithContext(ctx).Where("1 = 1").Delete(&db.Registration{}).Error
}
