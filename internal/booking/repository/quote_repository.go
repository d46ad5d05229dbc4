package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrQuoteNotFound = errors.New("quote not found")

type QuoteRepository interface {
	Record(ctx context.Context, q *domain.Quote) error
	GetByID(ctx context.Context, id string) (*domain.Quote, error)
	ListByListing(ctx context.Context, listingID string, limit int) ([]domain.Quote, error)
}

type quoteRepository struct {
	pool *pgxpool.Pool
}

func NewQuoteRepository(pool *pgxpool.Pool) QuoteRepository {
	return &quoteRepository{pool: pool}
}

const quoteCols = `id, COALESCE(user_id, ''), listing_id, start_date, end_date, nights, guests,
nightly_rate, base_amount, platform_fee_bps, platform_fee, vat_bps, vat, total_amount,
currency, available, issued_at`

func (r *quoteRepository) Record(ctx context.Context, q *domain.Quote) error {
	const stmt = `INSERT INTO quotes (
		id, user_id, listing_id, start_date, end_date, nights, guests,
		nightly_rate, base_amount, platform_fee_bps, platform_fee, vat_bps, vat, total_amount,
		currency, available, issued_at
	) VALUES ($1,NULLIF($2,''),$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	stay, err := pricing.ParseStayRange(q.StartDate, q.EndDate)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b := q.Breakdown
	_, err = r.pool.Exec(ctx, stmt,
		q.ID, q.UserID, q.ListingID, stay.Start, stay.End, b.Nights, q.Guests,
		b.NightlyRate, b.BaseAmount, b.PlatformFeeBps, b.PlatformFee, b.VATBps, b.VAT, b.TotalAmount,
		q.Currency, q.Available, q.IssuedAt,
	)
	return err
}

func (r *quoteRepository) GetByID(ctx context.Context, id string) (*domain.Quote, error) {
	const q = `SELECT ` + quoteCols + ` FROM quotes WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	quote, err := scanQuote(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (r *quoteRepository) ListByListing(ctx context.Context, listingID string, limit int) ([]domain.Quote, error) {
	const q = `SELECT ` + quoteCols + ` FROM quotes WHERE listing_id=$1 ORDER BY issued_at DESC LIMIT $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *quote)
	}
	return out, rows.Err()
}

func scanQuote(row pgx.Row) (*domain.Quote, error) {
	var (
		q          domain.Quote
		start, end time.Time
	)
	b := &q.Breakdown
	err := row.Scan(
		&q.ID, &q.UserID, &q.ListingID, &start, &end, &b.Nights, &q.Guests,
		&b.NightlyRate, &b.BaseAmount, &b.PlatformFeeBps, &b.PlatformFee, &b.VATBps, &b.VAT, &b.TotalAmount,
		&q.Currency, &q.Available, &q.IssuedAt,
	)
	if err != nil {
		return nil, err
	}
	stay := pricing.NewStayRange(start, end)
	q.StartDate, q.EndDate = stay.StartISO(), stay.EndISO()
	return &q, nil
}
