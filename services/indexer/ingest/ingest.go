package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"stabled/core/events"
	"stabled/services/indexer/models"
)

// Open connects to the indexer database, selecting the driver from the DSN
// scheme: postgres:// URLs use the postgres driver, everything else is treated
// as a SQLite path or DSN.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("ingest: database DSN required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("ingest: open database: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("ingest: migrate schema: %w", err)
	}
	return db, nil
}

// Store folds stream events into the indexer tables.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewStore wraps an opened database.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// LastCursor returns the highest applied event sequence, zero for a fresh
// database.
func (s *Store) LastCursor() (uint64, error) {
	var cursor models.Cursor
	err := s.db.First(&cursor, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.LastSequence, nil
}

// Apply persists one stream event and updates the folded positions and the
// cursor in a single transaction. Events at or below the cursor are ignored.
func (s *Store) Apply(evt events.StreamEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var cursor models.Cursor
		err := tx.First(&cursor, 1).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = models.Cursor{ID: 1}
		} else if err != nil {
			return err
		}
		if evt.Sequence <= cursor.LastSequence {
			return nil
		}

		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		record := models.EventRecord{
			ID:         uuid.New(),
			Sequence:   evt.Sequence,
			Type:       evt.Type,
			Attributes: string(attrs),
			EmittedAt:  time.Unix(evt.EmittedAt, 0).UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("insert event %d: %w", evt.Sequence, err)
		}

		if err := applyPosition(tx, evt); err != nil {
			return err
		}

		cursor.LastSequence = evt.Sequence
		return tx.Save(&cursor).Error
	})
}

// debtAsset labels debt rows in the position table.
const debtAsset = "DSC"

func applyPosition(tx *gorm.DB, evt events.StreamEvent) error {
	switch evt.Type {
	case events.TypeCollateralDeposited:
		return adjustCollateral(tx, evt.Attributes["account"], evt.Attributes["asset"], evt.Attributes["amount"], false)
	case events.TypeCollateralRedeemed:
		return adjustCollateral(tx, evt.Attributes["account"], evt.Attributes["asset"], evt.Attributes["amount"], true)
	case events.TypeDSCMinted:
		return adjustDebt(tx, evt.Attributes["account"], evt.Attributes["amount"], false)
	case events.TypeDSCBurned:
		return adjustDebt(tx, evt.Attributes["account"], evt.Attributes["amount"], true)
	case events.TypeLiquidated:
		if err := adjustCollateral(tx, evt.Attributes["account"], evt.Attributes["asset"], evt.Attributes["collateralSeized"], true); err != nil {
			return err
		}
		return adjustDebt(tx, evt.Attributes["account"], evt.Attributes["debtCovered"], true)
	default:
		return nil
	}
}

func adjustCollateral(tx *gorm.DB, account, asset, amount string, negate bool) error {
	return adjust(tx, account, asset, amount, negate, false)
}

func adjustDebt(tx *gorm.DB, account, amount string, negate bool) error {
	return adjust(tx, account, debtAsset, amount, negate, true)
}

func adjust(tx *gorm.DB, account, asset, amount string, negate, debt bool) error {
	account = strings.TrimSpace(account)
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if account == "" || asset == "" {
		return nil
	}
	delta, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return fmt.Errorf("ingest: invalid amount %q for %s/%s", amount, account, asset)
	}
	if negate {
		delta.Neg(delta)
	}

	var snap models.PositionSnapshot
	err := tx.Where("account = ? AND asset = ?", account, asset).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		snap = models.PositionSnapshot{
			ID:         uuid.New(),
			Account:    account,
			Asset:      asset,
			Collateral: "0",
			Debt:       "0",
		}
	} else if err != nil {
		return err
	}

	field := snap.Collateral
	if debt {
		field = snap.Debt
	}
	current, ok := new(big.Int).SetString(field, 10)
	if !ok {
		current = big.NewInt(0)
	}
	current.Add(current, delta)
	if debt {
		snap.Debt = current.String()
	} else {
		snap.Collateral = current.String()
	}
	return tx.Save(&snap).Error
}

// Runner maintains the websocket subscription against the node and feeds the
// store, reconnecting with backoff from the stored cursor.
type Runner struct {
	store *Store
	wsURL string
	log   *slog.Logger
}

// NewRunner builds a subscription runner for the node's /ws endpoint.
func NewRunner(store *Store, wsURL string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, wsURL: wsURL, log: logger}
}

// Run subscribes and ingests until the context is cancelled. Connection
// failures retry with capped exponential backoff; every reconnect resumes
// from the stored cursor.
func (r *Runner) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.streamOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Warn("stream interrupted", "err", err, "retryIn", backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (r *Runner) streamOnce(ctx context.Context) error {
	cursor, err := r.store.LastCursor()
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	endpoint, err := subscribeURL(r.wsURL, cursor)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "indexer shutdown")
	r.log.Info("subscribed to event stream", "url", r.wsURL, "cursor", cursor)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt events.StreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			r.log.Warn("malformed stream frame dropped", "err", err)
			continue
		}
		if err := r.store.Apply(evt); err != nil {
			return fmt.Errorf("apply event %d: %w", evt.Sequence, err)
		}
	}
}

func subscribeURL(raw string, cursor uint64) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	query := parsed.Query()
	query.Set("after", strconv.FormatUint(cursor, 10))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
