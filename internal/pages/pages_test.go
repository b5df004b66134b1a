package pages

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/e2e-harness/internal/browser/browsertest"
	"github.com/xkilldash9x/e2e-harness/internal/config"
	"github.com/xkilldash9x/e2e-harness/internal/testdata"
)

const sessionCookie = "session"

func loginForm(errMsg string) string {
	banner := ""
	if errMsg != "" {
		banner = fmt.Sprintf(`<p class="error-message">%s</p>`, html.EscapeString(errMsg))
	}
	return `<html><body>
<form method="post" action="/login">
  <input id="username" name="username">
  <input id="password" name="password" type="password">
  <button type="submit">Sign in</button>
</form>` + banner + `</body></html>`
}

// appHandler is a minimal cookie-session app with one valid account.
func appHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method != http.MethodPost {
			fmt.Fprint(w, loginForm(""))
			return
		}
		if r.FormValue("username") == "admin" && r.FormValue("password") == "s3cret" {
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "admin", Path: "/"})
			http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, loginForm("Invalid username or password"))
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value == "" {
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><h1 id="welcome">Welcome, %s!</h1><a id="logout" href="/logout">Log out</a></body></html>`,
			html.EscapeString(c.Value))
	})
	return mux
}

func newUsersData(t *testing.T) *testdata.Manager {
	t.Helper()
	dir := t.TempDir()
	users := `{
  "admin": {"username": "admin", "password": "s3cret"},
  "locked": {"username": "locked", "password": "nope"}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(users), 0o644))
	cfg := config.TestDataConfig{Backend: config.BackendFile, Dir: dir, Watch: true}
	data, cleanup, err := testdata.Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return data
}

func TestLoginFlow(t *testing.T) {
	fx := browsertest.New(t, appHandler())
	page := fx.NewPage(t)
	page.CaptureOnFailure(t)
	data := newUsersData(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	login := NewLoginPage(page)
	require.NoError(t, login.Open(ctx))

	loggedIn, err := login.IsLoggedIn(ctx)
	require.NoError(t, err)
	assert.False(t, loggedIn)

	require.NoError(t, login.LoginAs(ctx, data, "admin"))

	dashboard := NewDashboardPage(page)
	welcome, err := dashboard.WelcomeText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Welcome, admin!", welcome)

	loggedIn, err = login.IsLoggedIn(ctx)
	require.NoError(t, err)
	assert.True(t, loggedIn)

	require.NoError(t, dashboard.Logout(ctx))
	loggedIn, err = login.IsLoggedIn(ctx)
	require.NoError(t, err)
	assert.False(t, loggedIn)
}

func TestLoginRejected(t *testing.T) {
	fx := browsertest.New(t, appHandler())
	page := fx.NewPage(t)
	data := newUsersData(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	login := NewLoginPage(page)
	require.NoError(t, login.Open(ctx))
	require.NoError(t, login.LoginAs(ctx, data, "locked"))

	msg, err := login.ErrorMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Invalid username or password", msg)
}

func TestLoginAs_UnknownUser(t *testing.T) {
	fx := browsertest.New(t, appHandler())
	page := fx.NewPage(t)
	data := newUsersData(t)

	err := NewLoginPage(page).LoginAs(context.Background(), data, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, testdata.ErrKeyPathNotFound)
}
