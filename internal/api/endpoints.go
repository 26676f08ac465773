package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/readaloud/client/internal/logging"
	"github.com/readaloud/client/internal/models"
)

// Backend paths, relative to the base URL.
const (
	PathRegister       = "auth/register"
	PathLogin          = "auth/login"
	PathLogout         = "auth/logout"
	PathRefresh        = refreshPath
	PathMe             = "auth/me"
	PathProfilePhoto   = "auth/profile/photo"
	PathForgotPassword = "auth/password/forgot"
	PathBookSubmit     = "books/submit"
	PathBooks          = "books"
	PathPlans          = "billing/plans"
	PathCheckout       = "billing/checkout"
	PathBillingPortal  = "billing/portal"
)

// BookPath returns books/{id} with optional trailing segments.
func BookPath(id string, rest ...string) string {
	p := PathBooks + "/" + url.PathEscape(id)
	for _, seg := range rest {
		p += "/" + seg
	}
	return p
}

func call[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	res, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := res.Err(); err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Login authenticates with email and password and stores the resulting session and user.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error) {
	resp, err := call[models.AuthResponse](ctx, c, Request{Method: http.MethodPost, Path: PathLogin, Body: req, Public: true})
	if err != nil {
		return models.AuthResponse{}, err
	}
	return resp, c.signIn(ctx, resp)
}

// Register creates an account and stores the resulting session and user.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error) {
	resp, err := call[models.AuthResponse](ctx, c, Request{Method: http.MethodPost, Path: PathRegister, Body: req, Public: true})
	if err != nil {
		return models.AuthResponse{}, err
	}
	return resp, c.signIn(ctx, resp)
}

func (c *Client) signIn(ctx context.Context, resp models.AuthResponse) error {
	c.state.SetUser(resp.User)
	return c.state.Set(ctx, resp.Session())
}

// Me fetches the signed-in user and caches it on the session state.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	resp, err := call[models.MeResponse](ctx, c, Request{Method: http.MethodGet, Path: PathMe})
	if err != nil {
		return models.User{}, err
	}
	c.state.SetUser(resp.User)
	return resp.User, nil
}

// Logout tells the backend to revoke the refresh token, then clears local
// state whether or not that call succeeded.
func (c *Client) Logout(ctx context.Context) error {
	current := c.state.Get()
	if current.RefreshToken != "" {
		res, err := c.send(ctx, Request{
			Method: http.MethodPost,
			Path:   PathLogout,
			Body:   models.RefreshRequest{RefreshToken: current.RefreshToken},
		}, current.AccessToken)
		if err != nil {
			logging.FromContext(ctx).Warn("remote logout failed", "error", err)
		} else if apiErr := res.Err(); apiErr != nil {
			logging.FromContext(ctx).Warn("remote logout rejected", "error", apiErr)
		}
	}
	c.logout(ctx, current)
	return nil
}

// ForgotPassword asks the backend to send reset instructions.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	resp, err := call[models.MessageResponse](ctx, c, Request{
		Method: http.MethodPost,
		Path:   PathForgotPassword,
		Body:   models.ForgotPasswordRequest{Email: email},
		Public: true,
	})
	return resp.Message, err
}

// UpdateProfilePhoto points the user's avatar at an uploaded image.
func (c *Client) UpdateProfilePhoto(ctx context.Context, imageURL string) (models.User, error) {
	resp, err := call[models.MeResponse](ctx, c, Request{
		Method: http.MethodPost,
		Path:   PathProfilePhoto,
		Body:   models.ProfilePhotoRequest{ImageURL: imageURL},
	})
	if err != nil {
		return models.User{}, err
	}
	c.state.SetUser(resp.User)
	return resp.User, nil
}

// SubmitBook queues an uploaded PDF for conversion.
func (c *Client) SubmitBook(ctx context.Context, req models.SubmitBookRequest) (models.SubmitBookResponse, error) {
	return call[models.SubmitBookResponse](ctx, c, Request{Method: http.MethodPost, Path: PathBookSubmit, Body: req})
}

// ListBooks returns every job owned by the signed-in user.
func (c *Client) ListBooks(ctx context.Context) ([]models.Job, error) {
	resp, err := call[models.BooksResponse](ctx, c, Request{Method: http.MethodGet, Path: PathBooks})
	return resp.Jobs, err
}

// BookProgress returns the live status, step and events of a job.
func (c *Client) BookProgress(ctx context.Context, id string) (models.BookProgress, error) {
	return call[models.BookProgress](ctx, c, Request{Method: http.MethodGet, Path: BookPath(id, "progress")})
}

// BookDetails returns a job together with its events.
func (c *Client) BookDetails(ctx context.Context, id string) (models.Job, error) {
	resp, err := call[models.BookDetails](ctx, c, Request{Method: http.MethodGet, Path: BookPath(id)})
	return resp.Job, err
}

// BookAudio resolves the playback URL of a completed job.
func (c *Client) BookAudio(ctx context.Context, id string) (models.BookAudio, error) {
	return call[models.BookAudio](ctx, c, Request{Method: http.MethodGet, Path: BookPath(id, "audio")})
}

// Plans lists the purchasable plans.
func (c *Client) Plans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	resp, err := call[models.PlansResponse](ctx, c, Request{Method: http.MethodGet, Path: PathPlans})
	return resp.Plans, err
}

// Checkout starts a hosted checkout session.
func (c *Client) Checkout(ctx context.Context, req models.CheckoutRequest) (models.CheckoutResponse, error) {
	return call[models.CheckoutResponse](ctx, c, Request{Method: http.MethodPost, Path: PathCheckout, Body: req})
}

// BillingPortal returns a link to the hosted billing portal.
func (c *Client) BillingPortal(ctx context.Context, returnURL string) (models.PortalResponse, error) {
	return call[models.PortalResponse](ctx, c, Request{
		Method: http.MethodPost,
		Path:   PathBillingPortal,
		Body:   models.PortalRequest{ReturnURL: returnURL},
	})
}
