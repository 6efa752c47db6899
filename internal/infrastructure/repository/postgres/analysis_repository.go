package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

const defaultListLimit = 100

type AnalysisRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *AnalysisRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2025060201)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id TEXT PRIMARY KEY,
	mailbox TEXT NOT NULL,
	message_ref TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	raw_text TEXT NOT NULL DEFAULT '',
	attachment_refs JSONB NOT NULL DEFAULT '[]'::jsonb,
	text_result JSONB,
	text_error TEXT NOT NULL DEFAULT '',
	image_results JSONB NOT NULL DEFAULT '[]'::jsonb,
	reconciled JSONB NOT NULL DEFAULT '{}'::jsonb,
	customer_number TEXT,
	category TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	analysis_completed BOOLEAN NOT NULL DEFAULT FALSE,
	forwarded BOOLEAN NOT NULL DEFAULT FALSE,
	forwarding_completed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (mailbox, message_ref)
);

CREATE INDEX IF NOT EXISTS idx_analysis_records_status ON analysis_records(status);
CREATE INDEX IF NOT EXISTS idx_analysis_records_received_at ON analysis_records(received_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Create inserts a new record. A second record for the same mailbox message is rejected.
func (r *AnalysisRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	payload, err := encodeAnalysis(record.AnalysisSnapshot())
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO analysis_records (
	id, mailbox, message_ref, subject, sender, received_at, raw_text, attachment_refs, text_result, text_error,
	image_results, reconciled, customer_number, category, status, analysis_completed, forwarded, forwarding_completed,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (mailbox, message_ref) DO NOTHING
`,
		record.ID, record.Mailbox, record.MessageRef, record.Subject, record.From, record.ReceivedAt,
		record.RawText, payload.attachmentRefs, payload.textResult, record.TextError,
		payload.imageResults, payload.reconciled, record.Reconciled.CustomerNumber, record.Reconciled.Category,
		string(record.Status), record.AnalysisCompleted, record.Forwarded, record.ForwardingCompleted,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis record: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "insert analysis record", fmt.Errorf("message %s/%s already recorded", record.Mailbox, record.MessageRef))
	}
	return nil
}

const selectColumns = `
SELECT id, mailbox, message_ref, subject, sender, received_at, raw_text, attachment_refs, text_result, text_error,
	image_results, reconciled, status, analysis_completed, forwarded, forwarding_completed, created_at, updated_at
FROM analysis_records
`

func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+"WHERE id = $1", id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRecordNotFound, "get analysis record", fmt.Errorf("id %s", id))
		}
		return nil, err
	}
	return record, nil
}

func (r *AnalysisRepository) ExistsByMessageRef(ctx context.Context, mailbox, messageRef string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM analysis_records WHERE mailbox = $1 AND message_ref = $2)
`, mailbox, messageRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message ref: %w", err)
	}
	return exists, nil
}

// UpdateAnalysis writes the analysis columns only; forwarding columns are never touched.
func (r *AnalysisRepository) UpdateAnalysis(ctx context.Context, id string, update domain.AnalysisUpdate) error {
	payload, err := encodeAnalysis(update)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE analysis_records
SET raw_text = $2, attachment_refs = $3, text_result = $4, text_error = $5, image_results = $6, reconciled = $7,
	customer_number = $8, category = $9, status = $10, analysis_completed = $11, updated_at = $12
WHERE id = $1
`,
		id, update.RawText, payload.attachmentRefs, payload.textResult, update.TextError, payload.imageResults,
		payload.reconciled, update.Reconciled.CustomerNumber, update.Reconciled.Category, string(update.Status),
		update.AnalysisCompleted, r.now(),
	)
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	return requireAffected(res, "update analysis", id)
}

// MarkForwarded sets the terminal forwarding state.
func (r *AnalysisRepository) MarkForwarded(ctx context.Context, id string, forwarded bool) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE analysis_records
SET forwarded = $2, forwarding_completed = TRUE, updated_at = $3
WHERE id = $1
`, id, forwarded, r.now())
	if err != nil {
		return fmt.Errorf("mark forwarded: %w", err)
	}
	return requireAffected(res, "mark forwarded", id)
}

// UpdateLocation records where the source message lives after it was filed away.
func (r *AnalysisRepository) UpdateLocation(ctx context.Context, id, mailbox, messageRef string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE analysis_records
SET mailbox = $2, message_ref = $3, updated_at = $4
WHERE id = $1
`, id, mailbox, messageRef, r.now())
	if err != nil {
		return fmt.Errorf("update message location: %w", err)
	}
	return requireAffected(res, "update message location", id)
}

func (r *AnalysisRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.AnalysisRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	query := selectColumns
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += "WHERE status = $1\n"
	}
	args = append(args, limit)
	query += fmt.Sprintf("ORDER BY received_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analysis records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnalysisRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var (
		record        domain.AnalysisRecord
		status        string
		attachmentRaw []byte
		textRaw       []byte
		imageRaw      []byte
		reconciledRaw []byte
	)
	err := row.Scan(
		&record.ID, &record.Mailbox, &record.MessageRef, &record.Subject, &record.From, &record.ReceivedAt,
		&record.RawText, &attachmentRaw, &textRaw, &record.TextError, &imageRaw, &reconciledRaw,
		&status, &record.AnalysisCompleted, &record.Forwarded, &record.ForwardingCompleted,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan analysis record: %w", err)
	}
	record.Status = domain.RecordStatus(status)

	if err := unmarshalColumn(attachmentRaw, &record.AttachmentRefs); err != nil {
		return nil, fmt.Errorf("unmarshal attachment refs: %w", err)
	}
	if err := unmarshalColumn(textRaw, &record.TextResult); err != nil {
		return nil, fmt.Errorf("unmarshal text result: %w", err)
	}
	if err := unmarshalColumn(imageRaw, &record.ImageResults); err != nil {
		return nil, fmt.Errorf("unmarshal image results: %w", err)
	}
	if err := unmarshalColumn(reconciledRaw, &record.Reconciled); err != nil {
		return nil, fmt.Errorf("unmarshal reconciled: %w", err)
	}
	if record.AttachmentRefs == nil {
		record.AttachmentRefs = []string{}
	}
	if record.ImageResults == nil {
		record.ImageResults = []domain.ClassificationResult{}
	}
	return &record, nil
}

func unmarshalColumn(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type analysisPayload struct {
	attachmentRefs []byte
	textResult     []byte
	imageResults   []byte
	reconciled     []byte
}

func encodeAnalysis(update domain.AnalysisUpdate) (analysisPayload, error) {
	var (
		out analysisPayload
		err error
	)
	refs := update.AttachmentRefs
	if refs == nil {
		refs = []string{}
	}
	if out.attachmentRefs, err = json.Marshal(refs); err != nil {
		return out, fmt.Errorf("marshal attachment refs: %w", err)
	}
	if update.TextResult != nil {
		if out.textResult, err = json.Marshal(update.TextResult); err != nil {
			return out, fmt.Errorf("marshal text result: %w", err)
		}
	}
	images := update.ImageResults
	if images == nil {
		images = []domain.ClassificationResult{}
	}
	if out.imageResults, err = json.Marshal(images); err != nil {
		return out, fmt.Errorf("marshal image results: %w", err)
	}
	if out.reconciled, err = json.Marshal(update.Reconciled); err != nil {
		return out, fmt.Errorf("marshal reconciled: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}
