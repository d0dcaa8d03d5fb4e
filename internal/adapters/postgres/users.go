package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email)
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
}

func (r *UserRepository) exists(ctx context.Context, q, arg string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, q, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return ok, nil
}

const selectUser = `
	SELECT id, username, email, full_name, password_hash, role,
	       is_active, is_email_verified, last_login, created_at, updated_at
	FROM users
`

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+`WHERE email = $1`, email))
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+`WHERE id = $1`, id))
}

// CreateVerified burns the OTP and inserts the user in one transaction. A
// concurrent signup that already used the code loses with ErrOTPUsed.
func (r *UserRepository) CreateVerified(ctx context.Context, u *domain.User, otpID int64) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE email_verification_otps SET is_used = TRUE WHERE id = $1 AND is_used = FALSE`, otpID)
		if err != nil {
			return fmt.Errorf("mark otp used: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrOTPUsed
		}

		const q = `
			INSERT INTO users (
				username, email, full_name, password_hash, role,
				is_active, is_email_verified, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			RETURNING id, created_at, updated_at
		`
		err = tx.QueryRow(ctx, q,
			u.Username, u.Email, u.FullName, u.PasswordHash, string(u.Role),
			u.Active, u.EmailVerified,
		).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash, &role,
		&u.Active, &u.EmailVerified, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	u.Role = domain.ParseRole(role)
	return &u, nil
}

type OTPRepository struct {
	db DB
}

func NewOTPRepository(db DB) *OTPRepository {
	return &OTPRepository{db: db}
}

func (r *OTPRepository) Upsert(ctx context.Context, otp *domain.EmailOTP) error {
	const q = `
		INSERT INTO email_verification_otps (email, otp, is_used, created_at, expires_at)
		VALUES ($1, $2, FALSE, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			otp        = EXCLUDED.otp,
			is_used    = FALSE,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id
	`
	if err := r.db.QueryRow(ctx, q, otp.Email, otp.Code, otp.CreatedAt, otp.ExpiresAt).Scan(&otp.ID); err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	otp.Used = false
	return nil
}

func (r *OTPRepository) FindByEmailAndCode(ctx context.Context, email, code string) (*domain.EmailOTP, error) {
	const q = `
		SELECT id, email, otp, is_used, created_at, expires_at
		FROM email_verification_otps
		WHERE email = $1 AND otp = $2
	`
	var o domain.EmailOTP
	err := r.db.QueryRow(ctx, q, email, code).Scan(&o.ID, &o.Email, &o.Code, &o.Used, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find otp: %w", err)
	}
	return &o, nil
}
