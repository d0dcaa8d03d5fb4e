package domain

import (
	"context"
	"time"
)

type PaymentRepository interface {
	// Save inserts a new Payment or updates an existing one - upsert
	Save(ctx context.Context, p *Payment) error

	// FindByIdempotencyKey returns (nil, nil) when no payment carries the key
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)

	FindByOrderID(ctx context.Context, orderID string) (*Payment, error)
	FindByGatewayPaymentID(ctx context.Context, paymentID string) (*Payment, error)

	// ListByUser returns newest first
	ListByUser(ctx context.Context, userID string) ([]*Payment, error)
}

type UserRepository interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)

	// CreateVerified marks the OTP used and inserts the user atomically,
	// filling u.ID and timestamps.
	CreateVerified(ctx context.Context, u *User, otpID int64) error

	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

type OTPRepository interface {
	// Upsert replaces any existing code for the email
	Upsert(ctx context.Context, otp *EmailOTP) error
	FindByEmailAndCode(ctx context.Context, email, code string) (*EmailOTP, error)
}

type RecordRepository interface {
	// Upsert reports created=true when no record existed for (user, key)
	Upsert(ctx context.Context, r *Record) (created bool, err error)
	Find(ctx context.Context, userID, key string) (*Record, error)
}
