package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/readaloud/client/internal/auth"
	"github.com/readaloud/client/internal/logging"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/repositories"
)

// AuthHandler implements user authentication endpoints.
type AuthHandler struct {
	Users         UserStore
	Sessions      SessionManager
	SignupCredits int
	NowFunc       func() time.Time
}

// Login handles POST /api/v1/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		logger.Warn("login missing credentials", "email", req.Email)
		respondMessage(ctx, w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		logger.Warn("login user lookup failed", "email", req.Email, "error", err)
		respondMessage(ctx, w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		logger.Warn("login password mismatch", "userId", user.ID)
		respondMessage(ctx, w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("failed to issue session", "error", err, "userId", user.ID)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse(user, tokens))
}

// Register handles POST /api/v1/auth/register requests.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid register payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		logger.Warn("register missing credentials", "email", req.Email)
		respondMessage(ctx, w, http.StatusBadRequest, "email and password are required")
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		logger.Warn("register invalid email", "email", req.Email, "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid email address")
		return
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		logger.Warn("register existing account", "email", req.Email)
		respondMessage(ctx, w, http.StatusConflict, "account already exists")
		return
	} else if !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("register user lookup failed", "error", err, "email", req.Email)
		respondMessage(ctx, w, http.StatusInternalServerError, "unable to verify existing accounts")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			respondMessage(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("register failed to hash password", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to secure password")
		return
	}

	now := h.now()
	user := models.User{
		ID:               uuid.NewString(),
		Email:            req.Email,
		FirstName:        strings.TrimSpace(req.FirstName),
		LastName:         strings.TrimSpace(req.LastName),
		Role:             "user",
		CreditsRemaining: h.SignupCredits,
		PasswordHash:     hashed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			logger.Warn("register conflict", "email", req.Email)
			respondMessage(ctx, w, http.StatusConflict, "account already exists")
			return
		}
		logger.Error("register failed to create user", "error", err, "email", req.Email)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to create account")
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("register failed to issue session", "error", err, "userId", user.ID)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, authResponse(user, tokens))
}

// Refresh exchanges a refresh token for a new session.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("session manager unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	var req models.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid refresh payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		logger.Warn("missing refresh token")
		respondMessage(ctx, w, http.StatusBadRequest, "refresh token is required")
		return
	}

	tokens, userID, err := h.Sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			status = http.StatusUnauthorized
		}
		logger.Warn("refresh failed", "error", err, "status", status)
		respondMessage(ctx, w, status, "unable to refresh session")
		return
	}

	user, err := h.Users.FindByID(ctx, userID)
	if err != nil {
		logger.Error("refresh user lookup failed", "error", err, "userId", userID)
		respondMessage(ctx, w, http.StatusUnauthorized, "unable to refresh session")
		return
	}

	respondJSON(ctx, w, http.StatusOK, models.RefreshResponse{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

// Logout revokes the presented refresh token. Unknown tokens are not an error.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if h.Sessions != nil {
		h.Sessions.Revoke(ctx, strings.TrimSpace(req.RefreshToken))
	}
	respondMessage(ctx, w, http.StatusOK, "Logged out")
}

// Me returns the authenticated user.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	respondJSON(ctx, w, http.StatusOK, models.MeResponse{User: user})
}

// ForgotPassword handles POST /api/v1/auth/password/forgot requests. The
// response never reveals whether the account exists.
func (h AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil {
		logger.Error("user store unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req models.ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid password reset payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "email is required")
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		logger.Warn("password reset invalid email", "email", req.Email, "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid email address")
		return
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("password reset lookup failed", "error", err, "email", req.Email)
		respondMessage(ctx, w, http.StatusInternalServerError, "unable to process password reset")
		return
	}

	respondMessage(ctx, w, http.StatusOK, "If an account exists for that email, password reset instructions have been sent.")
}

// UpdateProfilePhoto stores a new profile photo URL for the caller.
func (h AuthHandler) UpdateProfilePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.ProfilePhotoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := url.Parse(strings.TrimSpace(req.ImageURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "imageUrl must be an absolute URL")
		return
	}

	photo := u.String()
	key := strings.TrimPrefix(u.Path, "/")
	user.ProfilePhotoURL = &photo
	user.ProfilePhotoKey = &key
	user.UpdatedAt = h.now()

	if err := h.Users.Update(ctx, user); err != nil {
		logger.Error("update profile photo", "error", err, "userId", user.ID)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to update profile photo")
		return
	}

	respondJSON(ctx, w, http.StatusOK, models.MeResponse{User: user})
}

func (h AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok || h.Users == nil {
		respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
		return models.User{}, false
	}

	user, err := h.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
			return models.User{}, false
		}
		logging.FromContext(ctx).Error("load current user", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to load user")
		return models.User{}, false
	}
	return user, true
}

func authResponse(user models.User, tokens models.SessionTokens) models.AuthResponse {
	return models.AuthResponse{
		User:          user,
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		EmailVerified: user.EmailVerified(),
	}
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
