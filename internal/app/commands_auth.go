package app

import (
	"bufio"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/readaloud/client/internal/books"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/storage"
)

func (e *env) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = e.readLine("Password: "); err != nil {
					return err
				}
			}

			resp, err := a.api.Login(ctx, models.LoginRequest{Email: email, Password: password})
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Fprintf(e.out, "Logged in as %s\n", resp.User.Email)
			if !resp.EmailVerified {
				fmt.Fprintln(e.out, "Your email address is not verified yet.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (e *env) registerCommand() *cobra.Command {
	var req models.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if req.Password == "" {
				if req.Password, err = e.readLine("Password: "); err != nil {
					return err
				}
			}

			resp, err := a.api.Register(ctx, req)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(e.out, "Welcome, %s. You have %d credits.\n", displayName(resp.User), resp.User.CreditsRemaining)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Account password (prompted when empty)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (e *env) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.api.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "Logged out")
			return nil
		},
	}
}

func (e *env) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and remaining credits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			user, err := a.api.Me(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "%s <%s>\n", displayName(user), user.Email)
			fmt.Fprintf(e.out, "Credits: %d\n", user.CreditsRemaining)
			if books.LowCredits(user.CreditsRemaining) {
				fmt.Fprintln(e.out, "You are running low on credits. See `readaloud plans`.")
			}
			if !user.EmailVerified() {
				fmt.Fprintln(e.out, "Email not verified")
			}
			return nil
		},
	}
}

func (e *env) forgotPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password EMAIL",
		Short: "Request password reset instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			msg, err := a.api.ForgotPassword(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, msg)
			return nil
		},
	}
}

func (e *env) profilePhotoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile-photo FILE|URL",
		Short: "Set the profile photo from an image file or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			imageURL := args[0]
			if u, err := url.Parse(imageURL); err != nil || u.Scheme == "" || u.Host == "" {
				if imageURL, err = e.uploadImage(cmd, imageURL); err != nil {
					return err
				}
			}

			user, err := a.api.UpdateProfilePhoto(ctx, imageURL)
			if err != nil {
				return err
			}
			if user.ProfilePhotoURL != nil {
				fmt.Fprintf(e.out, "Profile photo set to %s\n", *user.ProfilePhotoURL)
			}
			return nil
		},
	}
}

func (e *env) uploadImage(cmd *cobra.Command, path string) (string, error) {
	ctx := cmd.Context()
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%s: not an image", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	uploader, err := e.newUploader(ctx, e.cfg.ObjectStore)
	if err != nil {
		return "", err
	}
	uploaded, err := uploader.Upload(ctx, storage.Object{
		Name:        filepath.Base(path),
		Body:        f,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return uploaded.URL, nil
}

func (e *env) readLine(prompt string) (string, error) {
	fmt.Fprint(e.errOut, prompt)
	line, err := bufio.NewReader(e.in).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if err != nil && line == "" {
		return "", errors.New("no input")
	}
	return line, nil
}

func displayName(u models.User) string {
	if name := u.FullName(); name != "" {
		return name
	}
	return u.Email
}
