package pages

import (
	"context"

	"github.com/xkilldash9x/e2e-harness/internal/browser"
)

// Dashboard selectors.
const (
	DashboardPath            = "/dashboard"
	DashboardWelcomeSelector = "#welcome"
	DashboardLogoutSelector  = "#logout"
)

// DashboardPage is the landing page after a successful login.
type DashboardPage struct {
	*browser.Page
}

func NewDashboardPage(p *browser.Page) *DashboardPage {
	return &DashboardPage{Page: p}
}

// WelcomeText waits for the greeting and returns it.
func (d *DashboardPage) WelcomeText(ctx context.Context) (string, error) {
	return d.Text(ctx, DashboardWelcomeSelector)
}

// Logout signs out and waits until the login form is back.
func (d *DashboardPage) Logout(ctx context.Context) error {
	if err := d.Click(ctx, DashboardLogoutSelector); err != nil {
		return err
	}
	return d.WaitVisible(ctx, LoginUsernameSelector)
}
