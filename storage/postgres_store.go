package storage

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/storage/migrations"
)

const pgUniqueViolation = "23505"

const willColumns = `id, owner, beneficiary, name, description, release_time, status,
       owner_ciphertext_id, beneficiary_ciphertext_id,
       created_at, updated_at, activated_at, revoked_at, claimed_at`

// PostgresStore implements interfaces.WillStore and interfaces.NonceStore on
// PostgreSQL through the pgx database/sql driver.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// OpenPostgres opens and pings a pgx-backed database handle.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateWill(ctx context.Context, will *interfaces.Will, record *interfaces.ShareRecord) error {
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wills (`+willColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			willArgs(will)...)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO share_records (will_id, platform_share_3, platform_share_4)
			 VALUES ($1, $2, $3)`,
			will.ID.String(), record.PlatformShare3, record.PlatformShare4)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return interfaces.ErrDuplicateWill
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWill(ctx context.Context, id interfaces.WillID) (*interfaces.Will, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+willColumns+` FROM wills WHERE id = $1`, id.String())
	return scanWill(row)
}

func (s *PostgresStore) GetShareRecord(ctx context.Context, id interfaces.WillID) (*interfaces.ShareRecord, error) {
	record := &interfaces.ShareRecord{WillID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT platform_share_3, platform_share_4 FROM share_records WHERE will_id = $1`,
		id.String()).Scan(&record.PlatformShare3, &record.PlatformShare4)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrShareRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) UpdateWill(ctx context.Context, id interfaces.WillID, fn func(*interfaces.Will) error) (*interfaces.Will, error) {
	var updated *interfaces.Will
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		will, err := scanWill(tx.QueryRowContext(ctx,
			`SELECT `+willColumns+` FROM wills WHERE id = $1 FOR UPDATE`, id.String()))
		if err != nil {
			return err
		}

		if err := fn(will); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE wills
			 SET status = $2, owner_ciphertext_id = $3, beneficiary_ciphertext_id = $4,
			     updated_at = $5, activated_at = $6, revoked_at = $7, claimed_at = $8
			 WHERE id = $1`,
			will.ID.String(), int16(will.Status),
			contentIDArg(will.OwnerCiphertextID), contentIDArg(will.BeneficiaryCiphertextID),
			will.UpdatedAt, nullTime(will.ActivatedAt), nullTime(will.RevokedAt), nullTime(will.ClaimedAt))
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		updated = will
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) IssueNonce(ctx context.Context, nonce interfaces.AuthNonce) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_nonces (identity, intent, nonce, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity, intent) DO UPDATE
		 SET nonce = EXCLUDED.nonce, expires_at = EXCLUDED.expires_at`,
		nonce.Identity.String(), string(nonce.Intent), nonce.Nonce, nonce.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumeNonce(ctx context.Context, identity interfaces.Identity, intent interfaces.Intent, nonce string, now time.Time) error {
	// Rejections are returned through outcome so that the expired-nonce
	// delete still commits.
	var outcome error
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		var stored string
		var expiresAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT nonce, expires_at FROM auth_nonces
			 WHERE identity = $1 AND intent = $2
			 FOR UPDATE`,
			identity.String(), string(intent)).Scan(&stored, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = interfaces.ErrNonceNotFound
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case !now.Before(expiresAt):
			outcome = interfaces.ErrNonceExpired
		case subtle.ConstantTimeCompare([]byte(stored), []byte(nonce)) != 1:
			outcome = interfaces.ErrNonceMismatch
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM auth_nonces WHERE identity = $1 AND intent = $2`,
			identity.String(), string(intent))
		return err
	})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return outcome
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWill(row rowScanner) (*interfaces.Will, error) {
	var (
		id, owner, beneficiary          string
		status                          int16
		ownerCtID, beneficiaryCtID      []byte
		activatedAt, revokedAt, claimed sql.NullTime
		will                            interfaces.Will
	)

	err := row.Scan(&id, &owner, &beneficiary, &will.Name, &will.Description, &will.ReleaseTime, &status,
		&ownerCtID, &beneficiaryCtID,
		&will.CreatedAt, &will.UpdatedAt, &activatedAt, &revokedAt, &claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrWillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if will.ID, err = interfaces.ParseWillID(id); err != nil {
		return nil, err
	}
	if will.Owner, err = interfaces.ParseIdentity(owner); err != nil {
		return nil, fmt.Errorf("corrupt owner: %w", err)
	}
	if will.Beneficiary, err = interfaces.ParseIdentity(beneficiary); err != nil {
		return nil, fmt.Errorf("corrupt beneficiary: %w", err)
	}
	will.Status = interfaces.WillStatus(status)

	if ownerCtID != nil {
		if will.OwnerCiphertextID, err = interfaces.NewContentIDFromBytes(ownerCtID); err != nil {
			return nil, err
		}
	}
	if beneficiaryCtID != nil {
		if will.BeneficiaryCiphertextID, err = interfaces.NewContentIDFromBytes(beneficiaryCtID); err != nil {
			return nil, err
		}
	}

	will.ActivatedAt = activatedAt.Time
	will.RevokedAt = revokedAt.Time
	will.ClaimedAt = claimed.Time
	return &will, nil
}

func willArgs(w *interfaces.Will) []any {
	return []any{
		w.ID.String(), w.Owner.String(), w.Beneficiary.String(), w.Name, w.Description,
		w.ReleaseTime, int16(w.Status),
		contentIDArg(w.OwnerCiphertextID), contentIDArg(w.BeneficiaryCiphertextID),
		w.CreatedAt, w.UpdatedAt, nullTime(w.ActivatedAt), nullTime(w.RevokedAt), nullTime(w.ClaimedAt),
	}
}

func contentIDArg(id interfaces.ContentID) []byte {
	if id == (interfaces.ContentID{}) {
		return nil
	}
	return id.Bytes()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
