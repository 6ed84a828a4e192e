package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/helios-quant/backend/internal/contracts"
)

// PostgresSource serves the trading calendar and daily bars from the
// market.daily_bars table populated by the ingestion jobs.
// SSOT: daily-bar SQL lives here only.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a Source backed by PostgreSQL.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// TradingDates implements Source.
func (p *PostgresSource) TradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT trade_date
		FROM market.daily_bars
		WHERE trade_date BETWEEN $1 AND $2
		ORDER BY trade_date
	`

	rows, err := p.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query trading dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan trading date: %w", err)
		}
		dates = append(dates, d)
	}

	return dates, rows.Err()
}

// Bar implements Source. Prices are read as text and parsed into decimals
// so NUMERIC columns never pass through a float.
func (p *PostgresSource) Bar(ctx context.Context, inst contracts.Instrument, date time.Time) (contracts.Bar, bool, error) {
	query := `
		SELECT open_price::text, high_price::text, low_price::text, close_price::text, volume
		FROM market.daily_bars
		WHERE instrument = $1
		  AND trade_date = $2
		LIMIT 1
	`

	var open, high, low, closeStr string
	var volume int64
	err := p.pool.QueryRow(ctx, query, string(inst), date).Scan(&open, &high, &low, &closeStr, &volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.Bar{}, false, nil
	}
	if err != nil {
		return contracts.Bar{}, false, fmt.Errorf("query bar %s@%s: %w", inst, date.Format(dateLayout), err)
	}

	bar := contracts.Bar{
		Instrument: inst,
		Date:       date,
		Volume:     volume,
	}
	if bar.Open, err = decimal.NewFromString(open); err != nil {
		return contracts.Bar{}, false, fmt.Errorf("parse open price: %w", err)
	}
	if bar.High, err = decimal.NewFromString(high); err != nil {
		return contracts.Bar{}, false, fmt.Errorf("parse high price: %w", err)
	}
	if bar.Low, err = decimal.NewFromString(low); err != nil {
		return contracts.Bar{}, false, fmt.Errorf("parse low price: %w", err)
	}
	if bar.Close, err = decimal.NewFromString(closeStr); err != nil {
		return contracts.Bar{}, false, fmt.Errorf("parse close price: %w", err)
	}

	return bar, true, nil
}
