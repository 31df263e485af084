package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultHistoryLimit = 50

// JournalEntry is one committed ledger mutation.
type JournalEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Spoke     string    `gorm:"size:64;index:idx_journal_account,priority:1"`
	Account   string    `gorm:"size:42;index:idx_journal_account,priority:2"`
	Caller    string    `gorm:"size:42"`
	Action    string    `gorm:"size:32"`
	Asset     string    `gorm:"size:16"`
	Amount    string    `gorm:"size:80"`
	Result    string    `gorm:"size:80"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName pins the table name independently of struct renames.
func (JournalEntry) TableName() string { return "ledger_journal" }

// Journal is an append-only audit trail of committed mutations backed by
// sqlite or postgres. A nil Journal discards entries.
type Journal struct {
	db *gorm.DB
}

// OpenJournal connects to dsn and migrates the schema. DSNs starting with
// postgres:// or postgresql:// use the postgres driver; anything else is
// treated as a sqlite path.
func OpenJournal(dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends entry, assigning an id when it has none.
func (j *Journal) Record(ctx context.Context, entry JournalEntry) error {
	if j == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// Recent returns the newest entries for account on spoke, newest first. A
// non-positive limit selects the default page size.
func (j *Journal) Recent(ctx context.Context, spoke string, account common.Address, limit int) ([]JournalEntry, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var entries []JournalEntry
	err := j.db.WithContext(ctx).
		Where("spoke = ? AND account = ?", spoke, account.Hex()).
		Order("created_at desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
