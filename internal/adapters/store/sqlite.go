// Package store implements the durable trade, wallet and scan-cursor
// tables over SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

type tradeRow struct {
	ID            uint    `gorm:"primaryKey"`
	WalletAddress string  `gorm:"column:wallet_address;uniqueIndex:idx_trades_identity;index"`
	Chain         string  `gorm:"column:chain"`
	Exchange      string  `gorm:"column:exchange;uniqueIndex:idx_trades_identity"`
	Market        string  `gorm:"column:market"`
	Side          string  `gorm:"column:side"`
	Price         float64 `gorm:"column:price"`
	Size          float64 `gorm:"column:size"`
	NotionalValue float64 `gorm:"column:notional_value;not null;check:notional_value >= 0"`
	Timestamp     int64   `gorm:"column:timestamp"`
	TradeID       string  `gorm:"column:trade_id;uniqueIndex:idx_trades_identity"`
	Unvalued      bool    `gorm:"column:unvalued"`
}

func (tradeRow) TableName() string { return "trades" }

type walletRow struct {
	ID        uint      `gorm:"primaryKey"`
	Address   string    `gorm:"column:address;uniqueIndex"`
	Chain     string    `gorm:"column:chain"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (walletRow) TableName() string { return "wallets" }

type cursorRow struct {
	ID            uint      `gorm:"primaryKey"`
	WalletAddress string    `gorm:"column:wallet_address;uniqueIndex:idx_cursor_identity"`
	Venue         string    `gorm:"column:venue;uniqueIndex:idx_cursor_identity"`
	LastBlock     uint64    `gorm:"column:last_block"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (cursorRow) TableName() string { return "scan_cursors" }

// Store is the SQLite-backed TradeStore and CursorStore.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing gorm handle; tests use it with :memory:.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&tradeRow{}, &walletRow{}, &cursorRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertTrades writes the batch, silently absorbing duplicates through the
// (wallet_address, exchange, trade_id) uniqueness constraint. Returns the
// number of rows actually created. Rows without a trade id are dropped here
// rather than poisoning the constraint with empty keys.
func (s *Store) InsertTrades(ctx context.Context, trades []domain.Trade) (int, error) {
	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		if t.TradeID == "" {
			log.Printf("store: dropping trade without trade_id (wallet=%s exchange=%s)", t.WalletAddress, t.Exchange)
			continue
		}
		if t.NotionalValue < 0 {
			return 0, fmt.Errorf("%w: negative notional %f for %s", domain.ErrInvalidTradeData, t.NotionalValue, t.TradeID)
		}
		rows = append(rows, tradeRow{
			WalletAddress: t.WalletAddress,
			Chain:         t.Chain,
			Exchange:      t.Exchange,
			Market:        t.Market,
			Side:          t.Side,
			Price:         t.Price,
			Size:          t.Size,
			NotionalValue: t.NotionalValue,
			Timestamp:     t.Timestamp,
			TradeID:       t.TradeID,
			Unvalued:      t.Unvalued,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("insert trades: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// valuedNotional sums notional over rows not flagged unvalued; unvalued
// swaps stay countable but never contribute volume.
const valuedNotional = "COALESCE(SUM(CASE WHEN unvalued = 0 OR unvalued IS NULL THEN notional_value ELSE 0 END), 0)"

func (s *Store) Totals(ctx context.Context) (float64, int64, error) {
	var out struct {
		TotalVolume float64
		TotalTrades int64
	}
	err := s.db.WithContext(ctx).Raw(
		"SELECT " + valuedNotional + " AS total_volume, COUNT(*) AS total_trades FROM trades",
	).Scan(&out).Error
	if err != nil {
		return 0, 0, fmt.Errorf("query totals: %w", err)
	}
	return out.TotalVolume, out.TotalTrades, nil
}

type groupedTotals struct {
	Key    string
	Volume float64
	Trades int64
}

func (s *Store) TotalsByExchange(ctx context.Context) (map[string]domain.VenueTotals, error) {
	return s.grouped(ctx, "exchange", "")
}

func (s *Store) TotalsByWallet(ctx context.Context) (map[string]domain.VenueTotals, error) {
	return s.grouped(ctx, "wallet_address", "")
}

func (s *Store) WalletTotalsByExchange(ctx context.Context, walletAddress string) (map[string]domain.VenueTotals, error) {
	return s.grouped(ctx, "exchange", walletAddress)
}

func (s *Store) grouped(ctx context.Context, column, walletAddress string) (map[string]domain.VenueTotals, error) {
	query := "SELECT " + column + " AS key, " + valuedNotional + " AS volume, COUNT(*) AS trades FROM trades"
	args := []any{}
	if walletAddress != "" {
		query += " WHERE LOWER(wallet_address) = ?"
		args = append(args, strings.ToLower(walletAddress))
	}
	query += " GROUP BY " + column

	var rows []groupedTotals
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query totals by %s: %w", column, err)
	}

	out := make(map[string]domain.VenueTotals, len(rows))
	for _, r := range rows {
		out[r.Key] = domain.VenueTotals{Volume: r.Volume, Trades: r.Trades}
	}
	return out, nil
}

// UpsertWallet records wallet metadata, updating the chain on conflict.
func (s *Store) UpsertWallet(ctx context.Context, wallet domain.Wallet) error {
	row := walletRow{Address: wallet.Address, Chain: wallet.Chain, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]any{"chain": wallet.Chain}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert wallet %s: %w", wallet.Address, err)
	}
	return nil
}

// NegativeNotionalCount reports rows violating the non-negative invariant;
// anything above zero means a writer bypassed the normalizer.
func (s *Store) NegativeNotionalCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&tradeRow{}).
		Where("notional_value < 0").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count negative notionals: %w", err)
	}
	return count, nil
}

// Load returns the scan cursor for (wallet, venue), if one exists.
func (s *Store) Load(ctx context.Context, walletAddress, venue string) (domain.ScanCursor, bool, error) {
	var row cursorRow
	err := s.db.WithContext(ctx).
		Where("LOWER(wallet_address) = ? AND venue = ?", strings.ToLower(walletAddress), venue).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ScanCursor{}, false, nil
	}
	if err != nil {
		return domain.ScanCursor{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return domain.ScanCursor{
		WalletAddress: row.WalletAddress,
		Venue:         row.Venue,
		LastBlock:     row.LastBlock,
	}, true, nil
}

// Advance moves the cursor forward, creating it on first use. The MAX in
// the conflict clause makes rewinds impossible: a stale writer can never
// pull the cursor backwards.
func (s *Store) Advance(ctx context.Context, cursor domain.ScanCursor) error {
	row := cursorRow{
		WalletAddress: strings.ToLower(cursor.WalletAddress),
		Venue:         cursor.Venue,
		LastBlock:     cursor.LastBlock,
		UpdatedAt:     time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "wallet_address"}, {Name: "venue"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_block": gorm.Expr("MAX(scan_cursors.last_block, excluded.last_block)"),
				"updated_at": row.UpdatedAt,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("advance cursor %s/%s: %w", cursor.WalletAddress, cursor.Venue, err)
	}
	return nil
}
