package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ridenow/ridenow-gobackend/internal/models"
)

// Queryable is satisfied by *pgxpool.Pool and pgx.Tx.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Queryable that can open transactions.
type DB interface {
	Queryable
	Begin(ctx context.Context) (pgx.Tx, error)
}

const uniqueViolation = "23505"

// PostgresPaymentStore keeps user and driver payments in separate tables.
// payment_references holds every reference once so uniqueness spans both.
type PostgresPaymentStore struct {
	db  DB
	now func() time.Time
}

func NewPostgresPaymentStore(db DB) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresPaymentStore) InsertPending(ctx context.Context, kind models.PayerKind, p *models.Payment) error {
	table, payerCol, err := partitionOf(kind)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_references (reference, payer_type) VALUES ($1, $2)`,
		p.Reference, string(kind))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("reference %s already recorded: %w", p.Reference, err)
		}
		return fmt.Errorf("failed to record reference: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, %s, email, amount, currency, status, reference,
			authorization_url, access_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, table, payerCol)
	_, err = tx.Exec(ctx, query,
		p.ID, p.PayerID, p.Email, p.Amount, p.Currency, string(p.Status), p.Reference,
		p.AuthorizationURL, p.AccessCode, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

// ApplySettlement runs one guarded UPDATE. When no row changes an existence
// check tells a stale event apart from an unknown reference.
//
// A pending report only touches pending rows and keeps last_event_at, so only
// terminal events move the time later events are compared against. An empty
// payload keeps the stored one.
func (s *PostgresPaymentStore) ApplySettlement(ctx context.Context, kind models.PayerKind, st models.Settlement) (models.SettlementOutcome, error) {
	table, _, err := partitionOf(kind)
	if err != nil {
		return models.OutcomeMissing, err
	}

	var raw any
	if len(st.RawPayload) > 0 {
		raw = string(st.RawPayload)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, gateway_response = $2, raw_payload = COALESCE($3::jsonb, raw_payload),
			last_event_at = CASE WHEN $1 = 'pending' THEN last_event_at ELSE $4 END, updated_at = $5
		WHERE reference = $6
		  AND (($1 = 'pending' AND status = 'pending')
		    OR ($1 <> 'pending' AND (last_event_at IS NULL OR last_event_at <= $4)))`, table)
	tag, err := s.db.Exec(ctx, query,
		string(st.Status), st.GatewayResponse, raw, st.OccurredAt, s.now(), st.Reference)
	if err != nil {
		return models.OutcomeMissing, fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return models.OutcomeApplied, nil
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE reference = $1)`, table),
		st.Reference).Scan(&exists)
	if err != nil {
		return models.OutcomeMissing, fmt.Errorf("failed to check reference %s: %w", st.Reference, err)
	}
	if exists {
		return models.OutcomeStale, nil
	}
	return models.OutcomeMissing, nil
}

func (s *PostgresPaymentStore) List(ctx context.Context, kind models.PayerKind, payerID string) ([]models.Payment, error) {
	table, payerCol, err := partitionOf(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, %s, email, amount, currency, status, reference, authorization_url,
			access_code, gateway_response, COALESCE(raw_payload::text, ''), last_event_at,
			created_at, updated_at
		FROM %s`, payerCol, table)
	var args []any
	if payerID != "" {
		query += fmt.Sprintf(` WHERE %s = $1`, payerCol)
		args = append(args, payerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		var status string
		if err := rows.Scan(
			&p.ID, &p.PayerID, &p.Email, &p.Amount, &p.Currency, &status, &p.Reference,
			&p.AuthorizationURL, &p.AccessCode, &p.GatewayResponse, &p.RawPayload,
			&p.LastEventAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Status = models.PaymentStatus(status)
		p.PayerType = kind
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read payments: %w", err)
	}
	return payments, nil
}
