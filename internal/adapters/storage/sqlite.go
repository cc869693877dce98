// Package storage adapts the replay-defense registry's window snapshots
// to durable storage, following the teacher's GORM+SQLite adapter shape.
package storage

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/dnomd343/authchain-go/internal/core/domain"
	"github.com/dnomd343/authchain-go/internal/core/ports"
)

// WindowModel is the GORM model for one (user_id, client_id) connection
// window. Alloc is stored as JSON since SQLite has no native set type.
type WindowModel struct {
	UserID     string `gorm:"primaryKey"`
	ClientID   uint32 `gorm:"primaryKey"`
	Front      uint64
	Back       uint64
	Alloc      string // JSON-encoded []uint64
	Enable     bool
	LastUpdate time.Time
	Ref        int
}

// SQLiteAdapter implements ports.WindowStore using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// NewSQLiteAdapter opens (creating if needed) the database at path and
// migrates the window table.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&WindowModel{}); err != nil {
		return nil, err
	}

	// Instrument every Save/Load/Delete with an OpenTelemetry span.
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	// WAL mode allows simultaneous readers and one writer; busy_timeout
	// avoids "database locked" errors under the flusher's periodic writes.
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_windows_last_update ON window_models(last_update)")

	return &SQLiteAdapter{db: db}, nil
}

func userIDKey(userID [4]byte) string {
	return hex.EncodeToString(userID[:])
}

// Save upserts the window snapshot for (userID, clientID).
func (a *SQLiteAdapter) Save(userID [4]byte, clientID uint32, w *domain.ConnectionWindow) error {
	allocIDs := make([]uint64, 0, len(w.Alloc))
	for id := range w.Alloc {
		allocIDs = append(allocIDs, id)
	}
	allocJSON, err := json.Marshal(allocIDs)
	if err != nil {
		return err
	}

	model := WindowModel{
		UserID:     userIDKey(userID),
		ClientID:   clientID,
		Front:      w.Front,
		Back:       w.Back,
		Alloc:      string(allocJSON),
		Enable:     w.Enable,
		LastUpdate: w.LastUpdate,
		Ref:        w.Ref,
	}
	return a.db.Save(&model).Error
}

// Load retrieves a previously saved window, or (nil, false, nil) if none
// exists for (userID, clientID).
func (a *SQLiteAdapter) Load(userID [4]byte, clientID uint32) (*domain.ConnectionWindow, bool, error) {
	var model WindowModel
	err := a.db.Where("user_id = ? AND client_id = ?", userIDKey(userID), clientID).First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var allocIDs []uint64
	if err := json.Unmarshal([]byte(model.Alloc), &allocIDs); err != nil {
		return nil, false, err
	}
	alloc := make(map[uint64]struct{}, len(allocIDs))
	for _, id := range allocIDs {
		alloc[id] = struct{}{}
	}

	w := &domain.ConnectionWindow{
		Front:      model.Front,
		Back:       model.Back,
		Alloc:      alloc,
		Enable:     model.Enable,
		LastUpdate: model.LastUpdate,
		Ref:        model.Ref,
	}
	return w, true, nil
}

// Delete removes the saved window for (userID, clientID), if any.
func (a *SQLiteAdapter) Delete(userID [4]byte, clientID uint32) error {
	return a.db.Where("user_id = ? AND client_id = ?", userIDKey(userID), clientID).Delete(&WindowModel{}).Error
}

// Close releases the underlying database handle.
func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("storage: error closing database: %v", err)
		return err
	}
	return nil
}

var _ ports.WindowStore = (*SQLiteAdapter)(nil)
