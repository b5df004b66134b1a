// Package pages holds page objects for the application under test.
package pages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/e2e-harness/internal/browser"
	"github.com/xkilldash9x/e2e-harness/internal/testdata"
)

// Login page selectors.
const (
	LoginPath             = "/login"
	LoginUsernameSelector = "#username"
	LoginPasswordSelector = "#password"
	LoginSubmitSelector   = "button[type=submit]"
	LoginErrorSelector    = ".error-message"
)

// Credentials is the shape of a user entry in the users test data document.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginPage wraps the sign-in form.
type LoginPage struct {
	*browser.Page
}

// NewLoginPage binds the login page object to an open tab.
func NewLoginPage(p *browser.Page) *LoginPage {
	return &LoginPage{Page: p}
}

// Open navigates to the login form and waits for it to render.
func (l *LoginPage) Open(ctx context.Context) error {
	if err := l.Goto(ctx, LoginPath); err != nil {
		return err
	}
	return l.WaitVisible(ctx, LoginUsernameSelector)
}

// Login fills in the form and submits it. It does not wait for the outcome;
// use IsLoggedIn or ErrorMessage for that.
func (l *LoginPage) Login(ctx context.Context, username, password string) error {
	l.Logger().Info("Logging in.", zap.String("username", username))
	if err := l.Fill(ctx, LoginUsernameSelector, username); err != nil {
		return err
	}
	if err := l.Fill(ctx, LoginPasswordSelector, password); err != nil {
		return err
	}
	return l.Click(ctx, LoginSubmitSelector)
}

// LoginAs reads credentials for userKey from the users document and logs in.
func (l *LoginPage) LoginAs(ctx context.Context, data *testdata.Manager, userKey string) error {
	var creds Credentials
	if err := data.Bind(ctx, "users", userKey, &creds); err != nil {
		return fmt.Errorf("loading credentials for %q: %w", userKey, err)
	}
	return l.Login(ctx, creds.Username, creds.Password)
}

// ErrorMessage waits for the login error banner and returns its text.
func (l *LoginPage) ErrorMessage(ctx context.Context) (string, error) {
	return l.Text(ctx, LoginErrorSelector)
}

// IsLoggedIn reports whether the dashboard has replaced the login form.
func (l *LoginPage) IsLoggedIn(ctx context.Context) (bool, error) {
	return l.IsVisible(ctx, DashboardWelcomeSelector)
}
