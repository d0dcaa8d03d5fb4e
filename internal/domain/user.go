package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole only grants ADMIN on an explicit request, anything else is USER.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

type User struct {
	ID            int64
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	Role          Role
	Active        bool
	EmailVerified bool
	LastLogin     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EmailOTP is the single pending verification code for an email address.
type EmailOTP struct {
	ID        int64
	Email     string
	Code      string
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

func NewEmailOTP(email, code string, ttl time.Duration, now time.Time) *EmailOTP {
	return &EmailOTP{
		Email:     email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (o *EmailOTP) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Check returns the reason the code cannot be redeemed, if any.
func (o *EmailOTP) Check(now time.Time) error {
	if o.IsExpired(now) {
		return ErrOTPExpired
	}
	if o.Used {
		return ErrOTPUsed
	}
	return nil
}
