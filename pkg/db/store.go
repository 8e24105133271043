// Durable mirror for workspace state. The in-memory manager stays
// authoritative while the process is alive; this store absorbs best-effort
// snapshots and serves lazy load-through on cache misses.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/turboalan/collab/pkg/models"
)

// WorkspaceRecord is one stored workspace snapshot. The full state lives in
// the JSON document column; owner and updated_at are lifted out for queries.
type WorkspaceRecord struct {
	ID        string  `gorm:"primaryKey;size:36"`
	OwnerID   string  `gorm:"index;size:100;not null"`
	UpdatedAt float64 `gorm:"index"`
	Document  string  `gorm:"type:text;not null"`
}

func (WorkspaceRecord) TableName() string {
	return "workspaces"
}

// WorkspaceParticipant is the relational projection of a snapshot's
// participant list, kept so "workspaces containing user" is a plain join.
type WorkspaceParticipant struct {
	WorkspaceID string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"primaryKey;index;size:100"`
}

func (WorkspaceParticipant) TableName() string {
	return "workspace_participants"
}

// Open opens the sqlite database at path.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return gdb, nil
}

// WorkspaceStore persists workspace snapshots.
type WorkspaceStore struct {
	db *gorm.DB
}

func NewWorkspaceStore(db *gorm.DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

// AutoMigrate creates database tables
func (s *WorkspaceStore) AutoMigrate() error {
	return s.db.AutoMigrate(&WorkspaceRecord{}, &WorkspaceParticipant{})
}

// Save upserts the full snapshot and replaces the participant rows, in one
// transaction. Last writer wins; there is no concurrency token.
func (s *WorkspaceStore) Save(ctx context.Context, snap *models.WorkspaceSnapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal workspace %s: %w", snap.ID, err)
	}

	record := WorkspaceRecord{
		ID:        snap.ID,
		OwnerID:   snap.OwnerID,
		UpdatedAt: snap.UpdatedAt,
		Document:  string(doc),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&record).Error; err != nil {
			return err
		}
		if err := tx.Where("workspace_id = ?", snap.ID).Delete(&WorkspaceParticipant{}).Error; err != nil {
			return err
		}
		rows := make([]WorkspaceParticipant, 0, len(snap.Participants))
		for _, userID := range snap.Participants {
			rows = append(rows, WorkspaceParticipant{WorkspaceID: snap.ID, UserID: userID})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// Load fetches one snapshot by workspace id. A missing row is an error
// (gorm.ErrRecordNotFound); callers treat any error as absence.
func (s *WorkspaceStore) Load(ctx context.Context, workspaceID string) (*models.WorkspaceSnapshot, error) {
	var record WorkspaceRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", workspaceID).Error; err != nil {
		return nil, err
	}
	return decodeSnapshot(&record)
}

// LoadByParticipant fetches the snapshots of every workspace the user
// participates in, newest-updated first, capped at limit.
func (s *WorkspaceStore) LoadByParticipant(ctx context.Context, userID string, limit int) ([]*models.WorkspaceSnapshot, error) {
	var records []WorkspaceRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN workspace_participants p ON p.workspace_id = workspaces.id").
		Where("p.user_id = ?", userID).
		Order("workspaces.updated_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	snaps := make([]*models.WorkspaceSnapshot, 0, len(records))
	for i := range records {
		snap, err := decodeSnapshot(&records[i])
		if err != nil {
			// A corrupt row should not hide the rest.
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func decodeSnapshot(record *WorkspaceRecord) (*models.WorkspaceSnapshot, error) {
	var snap models.WorkspaceSnapshot
	if err := json.Unmarshal([]byte(record.Document), &snap); err != nil {
		return nil, fmt.Errorf("decode workspace %s: %w", record.ID, err)
	}
	return &snap, nil
}
