package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"relaybox/internal/constants"
	apperrors "relaybox/internal/errors"
	"relaybox/internal/metrics"
	"relaybox/internal/migrations"
	"relaybox/internal/models"
	"relaybox/internal/security"
	"relaybox/internal/tracing"
	"relaybox/internal/validation"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Options tunes the mailbox store. Zero values fall back to package defaults.
type Options struct {
	BusyTimeoutMs int
	MaxBodyBytes  int
	// Now is the clock used for created_at and delivered_at; tests pin it.
	Now func() time.Time
}

// Database is the SQLite-backed mailbox store. Mutations for one recipient are
// serialized; different recipients proceed independently.
type Database struct {
	db           *sql.DB
	locks        *recipientLocks
	maxBodyBytes int
	now          func() time.Time
}

func New(dbPath string, opts Options) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = constants.DefaultBusyTimeoutMs
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, opts.BusyTimeoutMs))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Apply(context.Background(), db, nil); err != nil {
		return nil, closeOnError(db, apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to initialize schema"))
	}

	return &Database{
		db:           db,
		locks:        newRecipientLocks(),
		maxBodyBytes: opts.MaxBodyBytes,
		now:          opts.Now,
	}, nil
}

// dsn enables WAL for concurrent readers, synchronous=FULL so an acknowledged
// append survives a crash, and BEGIN IMMEDIATE so writers queue on busy_timeout
// instead of failing on lock upgrade.
func dsn(path string, busyTimeoutMs int) string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=FULL&_txlock=immediate", path, busyTimeoutMs)
}

func closeOnError(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the store can currently serve queries
func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return apperrors.NewStoreUnavailable("ping", err)
	}
	return nil
}

// Append validates and durably stores a pending message for recipient
func (d *Database) Append(ctx context.Context, sender, recipient, body string) (*models.Message, error) {
	if err := validation.ValidateEnvelope(sender, recipient, body, d.maxBodyBytes); err != nil {
		return nil, err
	}

	ctx, span := d.startSpan(ctx, "store.append", recipient)
	defer span.End()
	start := time.Now()

	unlock := d.locks.Lock(recipient)
	defer unlock()

	msg := &models.Message{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Status:    models.MessageStatusPending,
		CreatedAt: d.now().UTC(),
	}

	err := retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, InsertMessageQuery, msg.Sender, msg.Recipient, msg.Body, msg.CreatedAt)
		if err != nil {
			return err
		}
		msg.ID, err = result.LastInsertId()
		return err
	})
	d.observe("append", start)
	if err != nil {
		return nil, d.storeError(ctx, "append", err)
	}

	tracing.AddSpanAttributes(ctx, attribute.Int64("message.id", msg.ID))
	metrics.IncrementCounter("messages_appended_total", nil, "Messages durably appended to a mailbox")
	return msg, nil
}

// FetchPending returns recipient's pending messages in id order without marking them
func (d *Database) FetchPending(ctx context.Context, recipient string) ([]*models.Message, error) {
	if err := validation.ValidateIdentity("recipient", recipient); err != nil {
		return nil, err
	}

	ctx, span := d.startSpan(ctx, "store.fetch_pending", recipient)
	defer span.End()
	start := time.Now()

	var messages []*models.Message
	err := retryableDBOperation(ctx, func() error {
		var err error
		messages, err = queryMessages(ctx, d.db, SelectPendingByRecipientQuery, recipient)
		return err
	})
	d.observe("fetch_pending", start)
	if err != nil {
		return nil, d.storeError(ctx, "fetch_pending", err)
	}

	return messages, nil
}

// MarkDelivered transitions the given ids that are still pending and owned by
// recipient. Other ids are skipped. It returns how many rows changed, so a
// repeated call with the same ids returns 0.
func (d *Database) MarkDelivered(ctx context.Context, recipient string, ids []int64, via models.DeliveryPath) (int, error) {
	if err := validation.ValidateIdentity("recipient", recipient); err != nil {
		return 0, err
	}
	if err := validateDeliveryPath(via); err != nil {
		return 0, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, span := d.startSpan(ctx, "store.mark_delivered", recipient)
	defer span.End()
	start := time.Now()

	unlock := d.locks.Lock(recipient)
	defer unlock()

	var marked int
	err := retryableDBOperation(ctx, func() error {
		return d.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			marked, err = markDelivered(ctx, tx, recipient, ids, via, d.now().UTC())
			return err
		})
	})
	d.observe("mark_delivered", start)
	if err != nil {
		return 0, d.storeError(ctx, "mark_delivered", err)
	}

	if marked > 0 {
		metrics.AddToCounter("messages_delivered_total", float64(marked), map[string]string{"via": string(via)}, "Messages transitioned to delivered")
	}
	tracing.AddSpanAttributes(ctx, attribute.Int("messages.marked", marked))
	return marked, nil
}

// FetchAndMark returns every pending message for recipient and marks them
// delivered via poll in the same transaction.
func (d *Database) FetchAndMark(ctx context.Context, recipient string) ([]*models.Message, error) {
	if err := validation.ValidateIdentity("recipient", recipient); err != nil {
		return nil, err
	}

	ctx, span := d.startSpan(ctx, "store.fetch_and_mark", recipient)
	defer span.End()
	start := time.Now()

	unlock := d.locks.Lock(recipient)
	defer unlock()

	var messages []*models.Message
	err := retryableDBOperation(ctx, func() error {
		return d.withTx(ctx, func(tx *sql.Tx) error {
			pending, err := queryMessages(ctx, tx, SelectPendingByRecipientQuery, recipient)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				messages = pending
				return nil
			}

			ids := make([]int64, len(pending))
			for i, m := range pending {
				ids[i] = m.ID
			}

			deliveredAt := d.now().UTC()
			marked, err := markDelivered(ctx, tx, recipient, ids, models.DeliveryPathPoll, deliveredAt)
			if err != nil {
				return err
			}
			// the recipient lock plus the immediate transaction make this unreachable
			if marked != len(pending) {
				return fmt.Errorf("fetch_and_mark: marked %d of %d pending messages", marked, len(pending))
			}

			via := models.DeliveryPathPoll
			for _, m := range pending {
				m.Status = models.MessageStatusDelivered
				m.DeliveredAt = &deliveredAt
				m.DeliveredVia = &via
			}
			messages = pending
			return nil
		})
	})
	d.observe("fetch_and_mark", start)
	if err != nil {
		return nil, d.storeError(ctx, "fetch_and_mark", err)
	}

	if len(messages) > 0 {
		metrics.AddToCounter("messages_delivered_total", float64(len(messages)), map[string]string{"via": string(models.DeliveryPathPoll)}, "Messages transitioned to delivered")
	}
	tracing.AddSpanAttributes(ctx, attribute.Int("messages.marked", len(messages)))
	return messages, nil
}

// GetMessage returns the message with id, or nil when it does not exist
func (d *Database) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var msg *models.Message
	err := retryableDBOperation(ctx, func() error {
		messages, err := queryMessages(ctx, d.db, SelectMessageByIDQuery, id)
		if err != nil {
			return err
		}
		if len(messages) > 0 {
			msg = messages[0]
		}
		return nil
	})
	if err != nil {
		return nil, d.storeError(ctx, "get_message", err)
	}
	return msg, nil
}

// CountPending returns how many messages wait in recipient's mailbox
func (d *Database) CountPending(ctx context.Context, recipient string) (int, error) {
	if err := validation.ValidateIdentity("recipient", recipient); err != nil {
		return 0, err
	}

	var count int
	err := retryableDBOperation(ctx, func() error {
		return d.db.QueryRowContext(ctx, CountPendingByRecipientQuery, recipient).Scan(&count)
	})
	if err != nil {
		return 0, d.storeError(ctx, "count_pending", err)
	}
	return count, nil
}

// GetStalePendingCount counts pending messages older than threshold across all mailboxes
func (d *Database) GetStalePendingCount(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := d.now().UTC().Add(-threshold)

	var count int
	err := retryableDBOperation(ctx, func() error {
		return d.db.QueryRowContext(ctx, CountStalePendingQuery, cutoff).Scan(&count)
	})
	if err != nil {
		return 0, d.storeError(ctx, "stale_pending_count", err)
	}
	return count, nil
}

// CleanupOldRecords deletes delivered messages older than retentionDays.
// Pending messages are never removed.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if err := validation.ValidateRetentionDays(retentionDays); err != nil {
		return 0, err
	}
	cutoff := d.now().UTC().AddDate(0, 0, -retentionDays)

	var deleted int64
	err := retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, DeleteDeliveredBeforeQuery, cutoff)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, d.storeError(ctx, "cleanup", err)
	}
	return deleted, nil
}

func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *Database) startSpan(ctx context.Context, name, recipient string) (context.Context, oteltrace.Span) {
	return tracing.StartSpan(ctx, name,
		attribute.String("db.system", "sqlite"),
		attribute.Int("recipient.length", len(recipient)),
	)
}

func (d *Database) observe(operation string, start time.Time) {
	metrics.RecordTimer("store_operation_duration", time.Since(start), map[string]string{"operation": operation}, "Mailbox store operation latency")
}

// storeError converts a driver failure into StoreUnavailable. Context
// cancellation is passed through as a timeout since retrying cannot help.
func (d *Database) storeError(ctx context.Context, operation string, err error) error {
	tracing.RecordError(ctx, err, attribute.String("operation", operation))

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, fmt.Sprintf("mailbox store %s interrupted", operation)).
			WithContext("operation", operation).
			WithUserMessage("Request cancelled")
	}
	return apperrors.NewStoreUnavailable(operation, err)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryMessages(ctx context.Context, q queryer, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	var (
		msg          models.Message
		status       string
		deliveredAt  sql.NullTime
		deliveredVia sql.NullString
	)

	if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Body, &status, &msg.CreatedAt, &deliveredAt, &deliveredVia); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Status = models.MessageStatus(status)
	msg.CreatedAt = msg.CreatedAt.UTC()
	if deliveredAt.Valid {
		t := deliveredAt.Time.UTC()
		msg.DeliveredAt = &t
	}
	if deliveredVia.Valid {
		via := models.DeliveryPath(deliveredVia.String)
		msg.DeliveredVia = &via
	}
	return &msg, nil
}

func markDelivered(ctx context.Context, tx *sql.Tx, recipient string, ids []int64, via models.DeliveryPath, deliveredAt time.Time) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += maxIDsPerStatement {
		end := start + maxIDsPerStatement
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]interface{}, 0, len(chunk)+3)
		args = append(args, deliveredAt, string(via), recipient)
		for _, id := range chunk {
			args = append(args, id)
		}

		query := MarkDeliveredQueryPrefix + strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + ")"
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += int(affected)
	}
	return total, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateDeliveryPath(via models.DeliveryPath) error {
	switch via {
	case models.DeliveryPathLive, models.DeliveryPathPoll:
		return nil
	default:
		return apperrors.NewValidationError("delivered_via", string(via), "must be live or poll")
	}
}
