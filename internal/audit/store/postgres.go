package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/auditchain/auditchain/internal/audit/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, tenant_id, seq, submission_id, actor, action,
	resource_type, resource_id, COALESCE(correlation_id, ''), created_at,
	payload, hash_alg, key_id, COALESCE(prev_hash, ''), hash`

// PostgresStore persists audit records and chain heads to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Begin implements Store.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

// FindBySubmission implements Store.
func (s *PostgresStore) FindBySubmission(ctx context.Context, tenantID, submissionID string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE tenant_id = $1 AND submission_id = $2`,
		tenantID, submissionID,
	)
	return scanRecord(row)
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE id = $1`, id)
	return scanRecord(row)
}

// LoadRange implements Store. It streams the tenant's records in sequence
// order with optional inclusive bounds. Reads take no locks; records are
// immutable once written so verification can run concurrently with appends.
func (s *PostgresStore) LoadRange(ctx context.Context, tenantID string, fromSeq, toSeq *int64) ([]*model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE tenant_id = $1
		   AND ($2::bigint IS NULL OR seq >= $2)
		   AND ($3::bigint IS NULL OR seq <= $3)
		 ORDER BY seq ASC`,
		tenantID, fromSeq, toSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query record range: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Search implements Store.
func (s *PostgresStore) Search(ctx context.Context, q model.SearchQuery) (*model.SearchResult, error) {
	q.Normalize()

	where := `tenant_id = $1
		AND ($2 = '' OR actor ILIKE '%' || $2 || '%')
		AND ($3 = '' OR action = $3)
		AND ($4::timestamptz IS NULL OR created_at >= $4)
		AND ($5::timestamptz IS NULL OR created_at < $5)`
	args := []any{q.TenantID, q.Actor, q.Action, q.From, q.To}

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE `+where+`
		 ORDER BY seq ASC LIMIT $6 OFFSET $7`,
		append(args, q.Size, q.Page*q.Size)...,
	)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	return &model.SearchResult{Records: records, Total: total, Page: q.Page, Size: q.Size}, nil
}

// CountByTenant implements Store.
func (s *PostgresStore) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE tenant_id = $1`, tenantID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tenant records: %w", err)
	}
	return n, nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (tenants, records int64, err error) {
	if err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM audit_chain_heads),
		        (SELECT COUNT(*) FROM audit_records)`,
	).Scan(&tenants, &records); err != nil {
		return 0, 0, fmt.Errorf("store stats: %w", err)
	}
	return tenants, records, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// postgresTx wraps a pgx transaction with the append operations.
type postgresTx struct {
	tx pgx.Tx
}

// LockHead loads the tenant's head row with SELECT ... FOR UPDATE. The
// row lock is held until the transaction ends, blocking other appenders
// for the same tenant only.
func (t *postgresTx) LockHead(ctx context.Context, tenantID string) (*model.ChainHead, error) {
	head := &model.ChainHead{}
	var lastRecordID *uuid.UUID
	err := t.tx.QueryRow(ctx,
		`SELECT tenant_id, last_seq, COALESCE(last_hash, ''), last_record_id, updated_at
		 FROM audit_chain_heads WHERE tenant_id = $1 FOR UPDATE`,
		tenantID,
	).Scan(&head.TenantID, &head.LastSeq, &head.LastHash, &lastRecordID, &head.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock chain head: %w", err)
	}
	if lastRecordID != nil {
		head.LastRecordID = *lastRecordID
	}
	return head, nil
}

// CreateHead inserts the head row for a tenant's first append. ON CONFLICT
// DO NOTHING absorbs creation races: the loser blocks until the winner's
// insert commits, then proceeds to lock the winner's row.
func (t *postgresTx) CreateHead(ctx context.Context, tenantID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_chain_heads (tenant_id, last_seq, last_hash, last_record_id, updated_at)
		 VALUES ($1, 0, NULL, NULL, $2)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create chain head: %w", err)
	}
	return nil
}

// InsertRecord implements Tx.
func (t *postgresTx) InsertRecord(ctx context.Context, rec *model.Record) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_records (
			id, tenant_id, seq, submission_id, actor, action,
			resource_type, resource_id, correlation_id, created_at,
			payload, hash_alg, key_id, prev_hash, hash
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, NULLIF($9, ''), $10,
			$11, $12, $13, NULLIF($14, ''), $15
		)`,
		rec.ID, rec.TenantID, rec.Seq, rec.SubmissionID, rec.Actor, rec.Action,
		rec.ResourceType, rec.ResourceID, rec.CorrelationID, rec.CreatedAt,
		string(rec.Payload), rec.HashAlg, rec.KeyID, rec.PrevHash, rec.Hash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
			strings.Contains(pgErr.ConstraintName, "submission") {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// UpdateHead implements Tx.
func (t *postgresTx) UpdateHead(ctx context.Context, head *model.ChainHead) error {
	var lastRecordID *uuid.UUID
	if head.LastRecordID != uuid.Nil {
		lastRecordID = &head.LastRecordID
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE audit_chain_heads
		 SET last_seq = $2, last_hash = NULLIF($3, ''), last_record_id = $4, updated_at = $5
		 WHERE tenant_id = $1`,
		head.TenantID, head.LastSeq, head.LastHash, lastRecordID, head.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// scanRecord reads one record row, mapping pgx.ErrNoRows to ErrNotFound.
func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var payload string
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Seq, &rec.SubmissionID, &rec.Actor, &rec.Action,
		&rec.ResourceType, &rec.ResourceID, &rec.CorrelationID, &rec.CreatedAt,
		&payload, &rec.HashAlg, &rec.KeyID, &rec.PrevHash, &rec.Hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}
	rec.Payload = []byte(payload)
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]*model.Record, error) {
	var records []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
