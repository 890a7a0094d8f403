package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/server"
	"github.com/wolfeidau/qrtrack/internal/store/memory"
)

const testIssuer = "https://qrtrack.test"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	url    string
	issuer *identity.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.NewAssetStore()
	verifier, err := identity.NewVerifier(testIssuer, testSecret)
	require.NoError(t, err)
	issuer, err := identity.NewIssuer(testIssuer, testSecret)
	require.NoError(t, err)

	srv := server.NewServer(lifecycle.NewService(st), st, verifier, server.Config{})
	ts := httptest.NewServer(srv.Handler(zerolog.Nop()))
	t.Cleanup(ts.Close)

	return &fixture{url: ts.URL, issuer: issuer}
}

func (f *fixture) client(t *testing.T, p models.Principal) *Client {
	t.Helper()

	token, err := f.issuer.Issue(p, 0)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ServerURL = f.url
	cfg.Token = token

	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{ServerURL: "ftp://example.com"})
	require.Error(t, err)

	_, err = New(Config{ServerURL: "https://example.com/"})
	require.NoError(t, err)
}

func TestClientLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.client(t, models.Principal{ID: "a1", Name: "Ada Admin", Role: models.RoleAdmin})
	user := f.client(t, models.Principal{ID: "u1", Name: "Una User", Role: models.RoleUser})
	employee := f.client(t, models.Principal{ID: "e1", Name: "Eve Employee", Role: models.RoleEmployee})

	require.NoError(t, admin.Health(ctx))

	asset, err := admin.Create(ctx, "QR 100/A")
	require.NoError(t, err)
	require.Equal(t, models.StatusInactive, asset.Status)

	byCode, err := user.GetByCode(ctx, "QR 100/A")
	require.NoError(t, err)
	require.Equal(t, asset.ID, byCode.ID)

	inactive, err := user.ListInactive(ctx)
	require.NoError(t, err)
	require.Len(t, inactive, 1)

	activated, err := user.Activate(ctx, "QR 100/A")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, activated.Status)

	// The cached inactive list is revalidated, not served stale
	inactive, err = user.ListInactive(ctx)
	require.NoError(t, err)
	require.Empty(t, inactive)

	mine, err := user.ListMine(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	completed, err := employee.Complete(ctx, asset.ID, "all good")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, completed.Status)

	details, err := user.Details(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, details.History, 2)

	history, err := user.History(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, "all good", *history[0].Notes)

	done, err := user.ListByStatus(ctx, models.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)

	page, err := employee.ListAll(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 10, page.Limit)
	require.Equal(t, 1, page.Count)
}

func TestClientErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.client(t, models.Principal{ID: "a1", Role: models.RoleAdmin})
	user := f.client(t, models.Principal{ID: "u1", Role: models.RoleUser})

	_, err := user.Create(ctx, "X")
	require.True(t, IsReason(err, lifecycle.ReasonForbidden))

	_, err = admin.CreateBulk(ctx, []string{"A", "B"})
	require.NoError(t, err)

	_, err = admin.CreateBulk(ctx, []string{"B", "C"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, lifecycle.ReasonDuplicateCode, apiErr.Reason)
	require.Equal(t, []string{"B"}, apiErr.Codes)

	_, err = user.Activate(ctx, "missing")
	require.True(t, IsReason(err, lifecycle.ReasonNotFound))

	anonymous, err := New(Config{ServerURL: f.url})
	require.NoError(t, err)
	_, err = anonymous.ListInactive(ctx)
	require.True(t, IsReason(err, lifecycle.ReasonUnauthenticated))
}

func TestCachingHTTPClientRevalidates(t *testing.T) {
	f := newFixture(t)

	token, err := f.issuer.Issue(models.Principal{ID: "u1", Role: models.RoleUser}, 0)
	require.NoError(t, err)

	httpClient := NewCachingHTTPClient(t.TempDir())
	get := func() *http.Response {
		req, err := http.NewRequest(http.MethodGet, f.url+"/api/assets/inactive", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	first := get()
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Empty(t, first.Header.Get(httpcache.XFromCache))
	_, _ = io.Copy(io.Discard, first.Body)

	second := get()
	require.Equal(t, http.StatusOK, second.StatusCode)
	require.Equal(t, "1", second.Header.Get(httpcache.XFromCache))
}
