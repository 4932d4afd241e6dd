package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Persisted trading state behind a narrow repository
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

type Market struct {
	Key        string `gorm:"primaryKey"` // "platform:externalId"
	Platform   string `gorm:"index"`
	ExternalID string
	Title      string
	Category   string
	EndDate    *time.Time
	Active     bool
	VolumeUSD  decimal.Decimal `gorm:"type:decimal(20,2)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Outcome struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MarketKey string `gorm:"index"`
	OutcomeID string `gorm:"index"`
	Label     string // "YES" or "NO"
	BestBid   decimal.Decimal `gorm:"type:decimal(10,6)"`
	BestAsk   decimal.Decimal `gorm:"type:decimal(10,6)"`
	UpdatedAt time.Time
}

type MarketPair struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	MarketA      string `gorm:"index"`
	MarketB      string `gorm:"index"`
	Confidence   decimal.Decimal `gorm:"type:decimal(10,6)"`
	OutcomeMap   string          // JSON outcomeA -> outcomeB
	PolaritySame bool
	CreatedAt    time.Time
}

type PricePoint struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MarketKey string `gorm:"index:idx_price_market_ts"`
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	BestBid   decimal.Decimal `gorm:"type:decimal(10,6)"`
	BestAsk   decimal.Decimal `gorm:"type:decimal(10,6)"`
	VolumeUSD decimal.Decimal `gorm:"type:decimal(20,2)"`
	Timestamp time.Time `gorm:"index:idx_price_market_ts"`
}

type Order struct {
	ID           string `gorm:"primaryKey"`
	VenueID      string `gorm:"index"`
	Platform     string `gorm:"index"`
	MarketID     string `gorm:"index"`
	OutcomeID    string
	Side         string
	Type         string
	Price        decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size         decimal.Decimal `gorm:"type:decimal(20,6)"`
	FilledSize   decimal.Decimal `gorm:"type:decimal(20,6)"`
	AvgFillPrice decimal.Decimal `gorm:"type:decimal(10,6)"`
	Status       string          `gorm:"index"`
	StrategyID   string
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Trade struct {
	ID        string `gorm:"primaryKey"`
	OrderID   string `gorm:"index"`
	Platform  string `gorm:"index"`
	MarketID  string `gorm:"index"`
	OutcomeID string
	Side      string
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size      decimal.Decimal `gorm:"type:decimal(20,6)"`
	FeeUSD    decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt time.Time
}

type Position struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Platform    string `gorm:"uniqueIndex:idx_pos_key"`
	MarketID    string `gorm:"uniqueIndex:idx_pos_key"`
	OutcomeID   string `gorm:"uniqueIndex:idx_pos_key"`
	Size        decimal.Decimal `gorm:"type:decimal(20,6)"`
	AvgEntry    decimal.Decimal `gorm:"type:decimal(10,6)"`
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpdatedAt   time.Time
}

type ArbitrageOpportunity struct {
	ID         string `gorm:"primaryKey"`
	Type       string `gorm:"index"` // "single" or "cross"
	MarketA    string `gorm:"index"`
	MarketB    string
	SpreadBps  int64
	MaxProfit  decimal.Decimal `gorm:"type:decimal(20,6)"`
	MaxSize    decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status     string          `gorm:"index"` // "detected", "executed", "failed", "unwound", "unhedged", "expired"
	DetectedAt time.Time
	ResolvedAt *time.Time
}

type TradingSession struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	StartedAt     time.Time
	StoppedAt     *time.Time
	Mode          string // "paper" or "live"
	StartBalance  decimal.Decimal `gorm:"type:decimal(20,6)"`
	FinalBalance  decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(20,6)"`
	TradeCount    int64
	KillTrigger   string // set when the session ended via kill switch
}

type TrackedTrader struct {
	Wallet       string `gorm:"primaryKey"`
	Label        string
	ROI          float64
	WinRate      float64
	ProfitFactor float64
	Sharpe       float64
	MaxDrawdown  float64
	Trades       int64
	VolumeUSD    float64
	Score        float64
	Active       bool `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CopiedTrade struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Wallet    string `gorm:"index"`
	TxHash    string `gorm:"uniqueIndex"`
	MarketID  string `gorm:"index"`
	OutcomeID string
	Side      string
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	SizeUSD   decimal.Decimal `gorm:"type:decimal(20,6)"`
	OrderID   string
	Skipped   bool
	Reason    string
	CreatedAt time.Time
}

type CopyPosition struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Wallet      string `gorm:"uniqueIndex:idx_copy_pos_key"`
	MarketID    string `gorm:"uniqueIndex:idx_copy_pos_key"`
	OutcomeID   string `gorm:"uniqueIndex:idx_copy_pos_key"`
	Size        decimal.Decimal `gorm:"type:decimal(20,6)"`
	CostBasis   decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpdatedAt   time.Time
}

// New opens the database. A postgres:// DSN selects PostgreSQL,
// anything else is treated as a SQLite path.
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💳 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("💳 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&Market{}, &Outcome{}, &MarketPair{}, &PricePoint{},
		&Order{}, &Trade{}, &Position{}, &ArbitrageOpportunity{},
		&TradingSession{}, &TrackedTrader{}, &CopiedTrade{}, &CopyPosition{},
	); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Ping verifies the connection is alive. Health checks call this.
func (d *Database) Ping() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Market operations

func (d *Database) SaveMarket(m *Market) error {
	return d.db.Save(m).Error
}

func (d *Database) GetMarket(key string) (*Market, error) {
	var m Market
	err := d.db.First(&m, "key = ?", key).Error
	return &m, err
}

func (d *Database) GetActiveMarkets(platform string) ([]Market, error) {
	var out []Market
	err := d.db.Where("platform = ? AND active = ?", platform, true).Find(&out).Error
	return out, err
}

func (d *Database) SaveOutcome(o *Outcome) error {
	return d.db.Save(o).Error
}

// Pair operations

func (d *Database) SavePair(p *MarketPair) error {
	return d.db.Create(p).Error
}

func (d *Database) GetPairs() ([]MarketPair, error) {
	var out []MarketPair
	err := d.db.Order("confidence DESC").Find(&out).Error
	return out, err
}

func (d *Database) ClearPairs() error {
	return d.db.Where("1 = 1").Delete(&MarketPair{}).Error
}

// Price history operations

func (d *Database) SavePricePoint(p *PricePoint) error {
	return d.db.Create(p).Error
}

func (d *Database) GetPriceHistory(marketKey string, since time.Time) ([]PricePoint, error) {
	var out []PricePoint
	err := d.db.Where("market_key = ? AND timestamp >= ?", marketKey, since).
		Order("timestamp ASC").Find(&out).Error
	return out, err
}

// PrunePriceHistory drops samples older than the cutoff.
func (d *Database) PrunePriceHistory(before time.Time) (int64, error) {
	res := d.db.Where("timestamp < ?", before).Delete(&PricePoint{})
	return res.RowsAffected, res.Error
}

// Order operations

func (d *Database) SaveOrder(o *Order) error {
	return d.db.Save(o).Error
}

func (d *Database) GetOrder(id string) (*Order, error) {
	var o Order
	err := d.db.First(&o, "id = ?", id).Error
	return &o, err
}

func (d *Database) GetOpenOrders() ([]Order, error) {
	var out []Order
	err := d.db.Where("status IN ?", []string{"pending", "open", "partial"}).
		Order("created_at DESC").Find(&out).Error
	return out, err
}

// Trade operations

func (d *Database) SaveTrade(t *Trade) error {
	return d.db.Create(t).Error
}

func (d *Database) GetTradesByMarket(platform, marketID string) ([]Trade, error) {
	var out []Trade
	err := d.db.Where("platform = ? AND market_id = ?", platform, marketID).
		Order("created_at DESC").Find(&out).Error
	return out, err
}

func (d *Database) GetTotalFees() (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&Trade{}).Select("COALESCE(SUM(fee_usd), 0) as total").Scan(&result).Error
	return result.Total, err
}

// Position operations

func (d *Database) SavePosition(p *Position) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "market_id"}, {Name: "outcome_id"}},
		UpdateAll: true,
	}).Create(p).Error
}

func (d *Database) GetOpenPositions() ([]Position, error) {
	var out []Position
	err := d.db.Where("size != 0").Find(&out).Error
	return out, err
}

// Opportunity operations

func (d *Database) SaveOpportunity(o *ArbitrageOpportunity) error {
	return d.db.Save(o).Error
}

func (d *Database) GetRecentOpportunities(limit int) ([]ArbitrageOpportunity, error) {
	var out []ArbitrageOpportunity
	err := d.db.Order("detected_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Session operations

func (d *Database) StartSession(s *TradingSession) error {
	return d.db.Create(s).Error
}

func (d *Database) EndSession(s *TradingSession) error {
	return d.db.Save(s).Error
}

// Copy-trading operations

func (d *Database) SaveTrackedTrader(t *TrackedTrader) error {
	return d.db.Save(t).Error
}

func (d *Database) GetActiveTraders() ([]TrackedTrader, error) {
	var out []TrackedTrader
	err := d.db.Where("active = ?", true).Order("score DESC").Find(&out).Error
	return out, err
}

// SaveCopiedTrade records a copy decision. Replayed transactions are
// dropped on the tx_hash unique index.
func (d *Database) SaveCopiedTrade(t *CopiedTrade) error {
	return d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error
}

func (d *Database) GetCopiedTrades(wallet string, limit int) ([]CopiedTrade, error) {
	var out []CopiedTrade
	err := d.db.Where("wallet = ?", wallet).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (d *Database) SaveCopyPosition(p *CopyPosition) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet"}, {Name: "market_id"}, {Name: "outcome_id"}},
		UpdateAll: true,
	}).Create(p).Error
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var oppCount int64
	d.db.Model(&ArbitrageOpportunity{}).Count(&oppCount)
	stats["total_opportunities"] = oppCount

	var tradeCount int64
	d.db.Model(&Trade{}).Count(&tradeCount)
	stats["total_trades"] = tradeCount

	var marketCount int64
	d.db.Model(&Market{}).Where("active = ?", true).Count(&marketCount)
	stats["active_markets"] = marketCount

	var copiedCount int64
	d.db.Model(&CopiedTrade{}).Where("skipped = ?", false).Count(&copiedCount)
	stats["copied_trades"] = copiedCount

	fees, _ := d.GetTotalFees()
	stats["total_fees"] = fees

	return stats, nil
}
