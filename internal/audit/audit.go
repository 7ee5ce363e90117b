// Package audit keeps a local sqlite history of commands run on remote
// servers. Commands are stored sanitized; secrets never reach the database.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yoanbernabeu/sshconnector/internal/constants"
	"github.com/yoanbernabeu/sshconnector/internal/ssh"
)

// Entry is one recorded command.
type Entry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  string    `gorm:"size:36;index" json:"request_id"`
	Server     string    `gorm:"size:64;index" json:"server"`
	Host       string    `json:"host"`
	User       string    `gorm:"size:32" json:"user"`
	Command    string    `json:"command"`
	Sudo       string    `gorm:"size:16" json:"sudo"`
	ExitCode   int       `json:"exit_code"`
	Signal     string    `gorm:"size:16" json:"signal,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name.
func (Entry) TableName() string {
	return "command_history"
}

// Succeeded reports whether the command ran and exited 0.
func (e Entry) Succeeded() bool {
	return e.Error == "" && e.ExitCode == 0
}

// Auditor records and queries command history.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

var _ ssh.Recorder = (*Auditor)(nil)

// Open opens (creating if needed) the sqlite history at path.
func Open(path string, retentionDays int) (*Auditor, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	a, err := New(db, retentionDays)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return a, nil
}

// New creates an Auditor on db and migrates its table.
// If retentionDays is 0, constants.DefaultRetentionDays is used.
func New(db *gorm.DB, retentionDays int) (*Auditor, error) {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}, nil
}

// RecordCommand stores one finished command.
func (a *Auditor) RecordCommand(rec ssh.CommandRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := Entry{
		RequestID:  rec.RequestID,
		Server:     rec.Server,
		Host:       rec.Host,
		User:       rec.User,
		Command:    rec.Command,
		Sudo:       rec.Sudo,
		ExitCode:   rec.ExitCode,
		Signal:     rec.Signal,
		Error:      rec.Error,
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  a.nowFn(),
	}
	if err := a.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// QueryOptions specifies filters for retrieving history.
type QueryOptions struct {
	Server     string
	Since      *time.Time
	FailedOnly bool
	Limit      int
	Offset     int
}

// Query returns matching entries, newest first, and the total match count.
func (a *Auditor) Query(opts QueryOptions) ([]Entry, int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&Entry{})
	if opts.Server != "" {
		tx = tx.Where("server = ?", opts.Server)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.FailedOnly {
		tx = tx.Where("exit_code <> 0 OR error <> ''")
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = constants.DefaultHistoryLimit
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []Entry
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// PurgeOlderThan removes entries older than days, or than the configured
// retention when days is 0. Returns the number of entries deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&Entry{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}

// Close closes the underlying database.
func (a *Auditor) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
