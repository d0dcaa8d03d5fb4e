package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ademajagon/dynamic-app/internal/app"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

const authCookie = "authToken"

type authService interface {
	SendOTP(ctx context.Context, email string) error
	Signup(ctx context.Context, req app.SignupRequest) (*app.Session, error)
	Login(ctx context.Context, email, password string) (*app.Session, error)
	Refresh(ctx context.Context, token string) (*app.Session, error)
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type otpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type signupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FullName        string `json:"fullName"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	OTP             string `json:"otp"`
	Role            string `json:"role"`
}

type signupResponse struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	Role         string `json:"role"`
	CreatedAt    string `json:"createdAt"`
	Message      string `json:"message"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type authResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	User         userInfo `json:"user"`
	ExpiresIn    int64    `json:"expiresIn"`
	Message      string   `json:"message"`
}

type AuthHandler struct {
	svc          authService
	cookieMaxAge time.Duration
	log          *slog.Logger
}

func NewAuthHandler(svc authService, cookieMaxAge time.Duration, log *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, cookieMaxAge: cookieMaxAge, log: log}
}

func (h *AuthHandler) sendOTP(w http.ResponseWriter, r *http.Request) {
	var body sendOTPRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "SEND_OTP_FAILED")
		return
	}

	if err := h.svc.SendOTP(r.Context(), body.Email); err != nil {
		if errors.Is(err, domain.ErrTooManyRequests) {
			writeError(w, http.StatusTooManyRequests, err.Error(), "TOO_MANY_REQUESTS")
			return
		}
		writeError(w, http.StatusBadRequest, h.clientMessage(r, err), "SEND_OTP_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, otpResponse{
		Success: true,
		Message: "OTP sent successfully to " + body.Email,
	})
}

func (h *AuthHandler) signup(w http.ResponseWriter, r *http.Request) {
	var body signupRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "SIGNUP_FAILED")
		return
	}

	sess, err := h.svc.Signup(r.Context(), app.SignupRequest{
		Username:        body.Username,
		Email:           body.Email,
		FullName:        body.FullName,
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		OTP:             body.OTP,
		Role:            body.Role,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, h.clientMessage(r, err), "SIGNUP_FAILED")
		return
	}

	h.setCookie(w, sess.AccessToken)
	u := sess.User
	writeJSON(w, http.StatusCreated, signupResponse{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339),
		Message:      "User registered successfully",
		Token:        sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    int64(sess.ExpiresIn.Seconds()),
	})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error(), "INVALID_CREDENTIALS")
		return
	}

	sess, err := h.svc.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			h.log.ErrorContext(r.Context(), "login failed", "err", err)
		}
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error(), "INVALID_CREDENTIALS")
		return
	}

	h.setCookie(w, sess.AccessToken)
	writeJSON(w, http.StatusOK, newAuthResponse(sess, "Login successful"))
}

// validate exchanges the cookie (or bearer) token for a fresh access token.
func (h *AuthHandler) validate(w http.ResponseWriter, r *http.Request) {
	token := cookieToken(r)
	if token == "" {
		token = bearerToken(r)
	}

	sess, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, h.clientMessage(r, err), "TOKEN_REFRESH_FAILED")
		return
	}

	h.setCookie(w, sess.AccessToken)
	writeJSON(w, http.StatusOK, newAuthResponse(sess, "Token refreshed successfully"))
}

func (h *AuthHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Auth service is running"})
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientMessage hides infrastructure errors from callers.
func (h *AuthHandler) clientMessage(r *http.Request, err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) || isDomainError(err) {
		return err.Error()
	}
	h.log.ErrorContext(r.Context(), "auth request failed", "err", err, "path", r.URL.Path)
	return "request could not be completed"
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrEmailRegistered,
		domain.ErrUsernameTaken,
		domain.ErrPasswordMismatch,
		domain.ErrInvalidOTP,
		domain.ErrOTPExpired,
		domain.ErrOTPUsed,
		domain.ErrUnauthenticated,
		domain.ErrInvalidToken,
		domain.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func newAuthResponse(sess *app.Session, message string) authResponse {
	u := sess.User
	return authResponse{
		Token:        sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		User: userInfo{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			FullName: u.FullName,
			Role:     string(u.Role),
		},
		ExpiresIn: int64(sess.ExpiresIn.Seconds()),
		Message:   message,
	}
}
