package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"stabled/core/events"
	"stabled/services/indexer/models"
)

// Anomaly kinds recorded by reconciliation.
const (
	KindCollateralMismatch = "collateral_mismatch"
	KindDebtMismatch       = "debt_mismatch"
	KindNegativeBalance    = "negative_balance"
)

const debtAsset = "DSC"

// Reconciler recomputes account positions from the raw event log and checks
// them against the folded snapshots. Divergence means either a folding bug or
// a gap in the ingested stream; both warrant an anomaly row.
type Reconciler struct {
	db        *gorm.DB
	outputDir string
	log       *slog.Logger
	now       func() time.Time
}

// New builds a reconciler writing parquet exports under outputDir.
func New(db *gorm.DB, outputDir string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{db: db, outputDir: outputDir, log: logger, now: time.Now}
}

// Result summarises one reconciliation pass.
type Result struct {
	Events      int
	Positions   int
	Anomalies   []models.Anomaly
	ParquetPath string
}

type positionKey struct {
	account string
	asset   string
}

// Run replays the event log, compares the recomputed positions with the
// snapshots, records anomalies, and exports the daily operation totals.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	var records []models.EventRecord
	if err := r.db.WithContext(ctx).Order("sequence asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("recon: load events: %w", err)
	}

	computed := make(map[positionKey]*big.Int)
	for _, record := range records {
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
			r.log.Warn("skipping event with malformed attributes", "sequence", record.Sequence, "err", err)
			continue
		}
		foldEvent(computed, record.Type, attrs)
	}

	var snapshots []models.PositionSnapshot
	if err := r.db.WithContext(ctx).Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("recon: load snapshots: %w", err)
	}

	anomalies := compare(computed, snapshots)
	for i := range anomalies {
		anomalies[i].ID = uuid.New()
		if err := r.db.WithContext(ctx).Create(&anomalies[i]).Error; err != nil {
			return nil, fmt.Errorf("recon: record anomaly: %w", err)
		}
	}

	parquetPath, err := r.exportDailyTotals(records)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Events:      len(records),
		Positions:   len(snapshots),
		Anomalies:   anomalies,
		ParquetPath: parquetPath,
	}
	r.log.Info("reconciliation pass complete",
		"events", result.Events,
		"positions", result.Positions,
		"anomalies", len(result.Anomalies),
		"export", parquetPath)
	return result, nil
}

func foldEvent(computed map[positionKey]*big.Int, eventType string, attrs map[string]string) {
	add := func(account, asset, amount string, negate bool) {
		if account == "" || asset == "" {
			return
		}
		delta, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return
		}
		if negate {
			delta.Neg(delta)
		}
		key := positionKey{account: account, asset: asset}
		if computed[key] == nil {
			computed[key] = big.NewInt(0)
		}
		computed[key].Add(computed[key], delta)
	}

	switch eventType {
	case events.TypeCollateralDeposited:
		add(attrs["account"], attrs["asset"], attrs["amount"], false)
	case events.TypeCollateralRedeemed:
		add(attrs["account"], attrs["asset"], attrs["amount"], true)
	case events.TypeDSCMinted:
		add(attrs["account"], debtAsset, attrs["amount"], false)
	case events.TypeDSCBurned:
		add(attrs["account"], debtAsset, attrs["amount"], true)
	case events.TypeLiquidated:
		add(attrs["account"], attrs["asset"], attrs["collateralSeized"], true)
		add(attrs["account"], debtAsset, attrs["debtCovered"], true)
	}
}

func compare(computed map[positionKey]*big.Int, snapshots []models.PositionSnapshot) []models.Anomaly {
	anomalies := []models.Anomaly{}
	seen := make(map[positionKey]struct{}, len(snapshots))
	for _, snap := range snapshots {
		key := positionKey{account: snap.Account, asset: snap.Asset}
		seen[key] = struct{}{}

		expected := computed[key]
		if expected == nil {
			expected = big.NewInt(0)
		}
		observed := snap.Collateral
		kind := KindCollateralMismatch
		if snap.Asset == debtAsset {
			observed = snap.Debt
			kind = KindDebtMismatch
		}
		observedInt, ok := new(big.Int).SetString(observed, 10)
		if !ok {
			observedInt = big.NewInt(0)
		}
		if expected.Cmp(observedInt) != 0 {
			anomalies = append(anomalies, models.Anomaly{
				Kind:     kind,
				Account:  snap.Account,
				Asset:    snap.Asset,
				Expected: expected.String(),
				Observed: observedInt.String(),
				Details:  "snapshot diverges from event log replay",
			})
		}
		if observedInt.Sign() < 0 {
			anomalies = append(anomalies, models.Anomaly{
				Kind:     KindNegativeBalance,
				Account:  snap.Account,
				Asset:    snap.Asset,
				Observed: observedInt.String(),
				Details:  "folded position is negative",
			})
		}
	}
	for key, expected := range computed {
		if _, ok := seen[key]; ok || expected.Sign() == 0 {
			continue
		}
		kind := KindCollateralMismatch
		if key.asset == debtAsset {
			kind = KindDebtMismatch
		}
		anomalies = append(anomalies, models.Anomaly{
			Kind:     kind,
			Account:  key.account,
			Asset:    key.asset,
			Expected: expected.String(),
			Observed: "0",
			Details:  "event log has activity with no snapshot row",
		})
	}
	return anomalies
}

// dailyTotalRow tags use the v1.5 tag dialect (type=UTF8) the pinned writer
// parses; the BYTE_ARRAY/convertedtype spelling belongs to later releases.
type dailyTotalRow struct {
	Day       string `parquet:"name=day, type=UTF8"`
	EventType string `parquet:"name=event_type, type=UTF8"`
	Count     int64  `parquet:"name=count, type=INT64"`
	Total     string `parquet:"name=total_amount, type=UTF8"`
}

// exportDailyTotals writes a parquet audit file of per-day, per-type event
// counts and amount sums.
func (r *Reconciler) exportDailyTotals(records []models.EventRecord) (string, error) {
	type totalKey struct {
		day       string
		eventType string
	}
	counts := make(map[totalKey]int64)
	totals := make(map[totalKey]*big.Int)
	for _, record := range records {
		key := totalKey{
			day:       record.EmittedAt.UTC().Format("2006-01-02"),
			eventType: record.Type,
		}
		counts[key]++
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
			continue
		}
		amount := attrs["amount"]
		if amount == "" {
			amount = attrs["debtCovered"]
		}
		if delta, ok := new(big.Int).SetString(amount, 10); ok {
			if totals[key] == nil {
				totals[key] = big.NewInt(0)
			}
			totals[key].Add(totals[key], delta)
		}
	}

	keys := make([]totalKey, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].eventType < keys[j].eventType
	})

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("recon: create export dir: %w", err)
	}
	path := filepath.Join(r.outputDir, fmt.Sprintf("daily-totals-%s.parquet", r.now().UTC().Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(dailyTotalRow), 1)
	if err != nil {
		file.Close()
		return "", fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, key := range keys {
		total := "0"
		if sum := totals[key]; sum != nil {
			total = sum.String()
		}
		row := &dailyTotalRow{
			Day:       key.day,
			EventType: key.eventType,
			Count:     counts[key],
			Total:     total,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return "", fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return "", fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("recon: close parquet file: %w", err)
	}
	return path, nil
}
