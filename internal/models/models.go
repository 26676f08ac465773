package models

import "time"

// User represents an account holder as returned by the auth endpoints.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Role             string     `json:"role"`
	EmailVerifiedAt  *time.Time `json:"emailVerifiedAt"`
	CreditsRemaining int        `json:"creditsRemaining"`
	ProfilePhotoKey  *string    `json:"profilePhotoKey"`
	ProfilePhotoURL  *string    `json:"profilePhotoUrl"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// PasswordHash is only populated server side.
	PasswordHash string `json:"-"`
}

// EmailVerified reports whether the account has confirmed its email address.
func (u User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// FullName joins the first and last name for display.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Session holds the client's credentials. An empty AccessToken means logged out.
type Session struct {
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	EmailVerified bool   `json:"emailVerified"`
}

// LoggedIn reports whether the session carries an access token.
func (s Session) LoggedIn() bool {
	return s.AccessToken != ""
}

// SessionTokens describes a freshly issued token pair on the server side.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// LoginRequest is the body of POST auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User          User   `json:"user"`
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	EmailVerified bool   `json:"emailVerified"`
}

// Session extracts the credentials carried by the response.
func (r AuthResponse) Session() Session {
	return Session{
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		EmailVerified: r.EmailVerified,
	}
}

// RefreshRequest is the body of POST auth/token/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by auth/token/refresh. It has no emailVerified
// field so the flag is derived from the user record.
type RefreshResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session extracts the credentials carried by the response.
func (r RefreshResponse) Session() Session {
	return Session{
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		EmailVerified: r.User.EmailVerified(),
	}
}

// MeResponse is returned by GET auth/me.
type MeResponse struct {
	User User `json:"user"`
}

// ForgotPasswordRequest is the body of POST auth/password/forgot.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ProfilePhotoRequest is the body of POST auth/profile/photo.
type ProfilePhotoRequest struct {
	ImageURL string `json:"imageUrl"`
}

// MessageResponse carries a human readable message, also used for error bodies.
type MessageResponse struct {
	Message string `json:"message"`
}
