package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store/memory"
)

const (
	testIssuer = "https://qrtrack.test"
	testOrigin = "https://app.example"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")

	admin    = models.Principal{ID: "a1", Name: "Ada Admin", Role: models.RoleAdmin}
	user1    = models.Principal{ID: "u1", Name: "Una User", Role: models.RoleUser}
	employee = models.Principal{ID: "e1", Name: "Eve Employee", Role: models.RoleEmployee}
)

type response struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Reason  lifecycle.Reason `json:"reason"`
	Data    json.RawMessage  `json:"data"`
}

type testServer struct {
	url    string
	issuer *identity.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := memory.NewAssetStore()
	verifier, err := identity.NewVerifier(testIssuer, testSecret)
	require.NoError(t, err)
	issuer, err := identity.NewIssuer(testIssuer, testSecret)
	require.NoError(t, err)

	srv := NewServer(lifecycle.NewService(st), st, verifier, Config{CORSOrigins: []string{testOrigin}})
	ts := httptest.NewServer(srv.Handler(zerolog.Nop()))
	t.Cleanup(ts.Close)

	return &testServer{url: ts.URL, issuer: issuer}
}

func (s *testServer) token(t *testing.T, p models.Principal) string {
	t.Helper()
	token, err := s.issuer.Issue(p, 0)
	require.NoError(t, err)
	return token
}

func (s *testServer) request(t *testing.T, method, path string, actor *models.Principal, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, *actor))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// call performs a request and decodes the envelope, asserting the status.
func (s *testServer) call(t *testing.T, method, path string, actor *models.Principal, body any, wantStatus int) response {
	t.Helper()

	resp := s.request(t, method, path, actor, body, nil)
	require.Equal(t, wantStatus, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var env response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func decodeData[T any](t *testing.T, env response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, http.MethodGet, "/health", nil, nil, http.StatusOK)
	require.True(t, env.Success)
	require.Equal(t, "ok", env.Message)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, http.MethodGet, "/api/assets/inactive", nil, nil, http.StatusUnauthorized)
	require.False(t, env.Success)
	require.Equal(t, lifecycle.ReasonUnauthenticated, env.Reason)

	resp := s.request(t, http.MethodGet, "/api/assets/inactive", nil, nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := identity.NewIssuer("https://someone-else.test", testSecret)
	require.NoError(t, err)
	foreign, err := other.Issue(user1, 0)
	require.NoError(t, err)
	resp = s.request(t, http.MethodGet, "/api/assets/inactive", nil, nil, map[string]string{"Authorization": "Bearer " + foreign})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAssetLifecycle(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "QR_100"}, http.StatusCreated)
	require.True(t, env.Success)
	created := decodeData[models.Asset](t, env)
	require.Equal(t, models.StatusInactive, created.Status)
	require.Nil(t, created.CustodianID)

	env = s.call(t, http.MethodPost, "/api/assets/activate", &user1, ActivateRequest{Code: "QR_100"}, http.StatusOK)
	activated := decodeData[models.Asset](t, env)
	require.Equal(t, models.StatusActive, activated.Status)
	require.NotNil(t, activated.CustodianID)
	require.Equal(t, user1.ID, *activated.CustodianID)

	mine := decodeData[[]models.Asset](t, s.call(t, http.MethodGet, "/api/assets/mine", &user1, nil, http.StatusOK))
	require.Len(t, mine, 1)
	require.Equal(t, created.ID, mine[0].ID)

	env = s.call(t, http.MethodPost, "/api/assets/complete", &employee,
		CompleteRequest{AssetID: created.ID.String(), Notes: "returned to depot"}, http.StatusOK)
	completed := decodeData[models.Asset](t, env)
	require.Equal(t, models.StatusCompleted, completed.Status)
	require.Equal(t, user1.ID, *completed.CustodianID)

	details := decodeData[lifecycle.AssetDetails](t,
		s.call(t, http.MethodGet, "/api/assets/id/"+created.ID.String(), &user1, nil, http.StatusOK))
	require.Equal(t, models.StatusCompleted, details.Asset.Status)
	require.Len(t, details.History, 2)
	require.Equal(t, models.StatusCompleted, details.History[0].ToStatus)
	require.Equal(t, employee.ID, details.History[0].ActorID)
	require.Equal(t, "returned to depot", *details.History[0].Notes)
	require.Equal(t, models.StatusActive, details.History[1].ToStatus)
	require.Equal(t, "Una User", details.History[1].ActorName)

	history := decodeData[[]models.HistoryEntry](t,
		s.call(t, http.MethodGet, "/api/assets/id/"+created.ID.String()+"/history", &employee, nil, http.StatusOK))
	require.Len(t, history, 2)

	byCode := decodeData[models.Asset](t, s.call(t, http.MethodGet, "/api/assets/code/QR_100", &user1, nil, http.StatusOK))
	require.Equal(t, created.ID, byCode.ID)

	done := decodeData[[]models.Asset](t, s.call(t, http.MethodGet, "/api/assets/status/completed", &user1, nil, http.StatusOK))
	require.Len(t, done, 1)
}

func TestFailureStatuses(t *testing.T) {
	s := newTestServer(t)

	asset := decodeData[models.Asset](t, s.call(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "QR_1"}, http.StatusCreated))

	tests := []struct {
		name       string
		method     string
		path       string
		actor      *models.Principal
		body       any
		wantStatus int
		wantReason lifecycle.Reason
	}{
		{"user cannot create", http.MethodPost, "/api/assets", &user1, CreateRequest{Code: "QR_2"}, http.StatusForbidden, lifecycle.ReasonForbidden},
		{"duplicate code", http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "QR_1"}, http.StatusConflict, lifecycle.ReasonDuplicateCode},
		{"empty code", http.MethodPost, "/api/assets", &admin, CreateRequest{}, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"unknown field", http.MethodPost, "/api/assets", &admin, `{"code":"QR_3","colour":"red"}`, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"malformed body", http.MethodPost, "/api/assets/activate", &user1, `{"code":`, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"activate unknown code", http.MethodPost, "/api/assets/activate", &user1, ActivateRequest{Code: "QR_404"}, http.StatusNotFound, lifecycle.ReasonNotFound},
		{"complete inactive", http.MethodPost, "/api/assets/complete", &employee, CompleteRequest{AssetID: asset.ID.String()}, http.StatusConflict, lifecycle.ReasonInvalidTransition},
		{"user cannot complete", http.MethodPost, "/api/assets/complete", &user1, CompleteRequest{AssetID: asset.ID.String()}, http.StatusForbidden, lifecycle.ReasonForbidden},
		{"complete bad id", http.MethodPost, "/api/assets/complete", &employee, CompleteRequest{AssetID: "nope"}, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"details bad id", http.MethodGet, "/api/assets/id/nope", &user1, nil, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"details missing", http.MethodGet, "/api/assets/id/0190ba3c-56d4-7c6e-9d2e-1f0a2b3c4d5e", &user1, nil, http.StatusNotFound, lifecycle.ReasonNotFound},
		{"unknown status", http.MethodGet, "/api/assets/status/lost", &user1, nil, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"bad limit", http.MethodGet, "/api/assets?limit=ten", &admin, nil, http.StatusBadRequest, lifecycle.ReasonInvalidArgument},
		{"user cannot list all", http.MethodGet, "/api/assets", &user1, nil, http.StatusForbidden, lifecycle.ReasonForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := s.call(t, tt.method, tt.path, tt.actor, tt.body, tt.wantStatus)
			require.False(t, env.Success)
			require.Equal(t, tt.wantReason, env.Reason)
			require.NotEmpty(t, env.Message)
		})
	}
}

func TestSecondActivationConflicts(t *testing.T) {
	s := newTestServer(t)
	user2 := models.Principal{ID: "u2", Name: "Ben User", Role: models.RoleUser}

	s.call(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "QR_7"}, http.StatusCreated)
	s.call(t, http.MethodPost, "/api/assets/activate", &user1, ActivateRequest{Code: "QR_7"}, http.StatusOK)

	env := s.call(t, http.MethodPost, "/api/assets/activate", &user2, ActivateRequest{Code: "QR_7"}, http.StatusConflict)
	require.Equal(t, lifecycle.ReasonInvalidTransition, env.Reason)
}

func TestBulkCreate(t *testing.T) {
	s := newTestServer(t)

	env := s.call(t, http.MethodPost, "/api/assets/bulk", &admin, CreateBulkRequest{Codes: []string{"A", "B", "A"}}, http.StatusCreated)
	require.Equal(t, "2 assets created", env.Message)
	require.Len(t, decodeData[[]models.Asset](t, env), 2)

	env = s.call(t, http.MethodPost, "/api/assets/bulk", &admin, CreateBulkRequest{Codes: []string{"C", "B", "D"}}, http.StatusConflict)
	require.Equal(t, lifecycle.ReasonDuplicateCode, env.Reason)
	require.Equal(t, []string{"B"}, decodeData[DuplicateCodes](t, env).Codes)

	page := decodeData[lifecycle.Page](t, s.call(t, http.MethodGet, "/api/assets", &admin, nil, http.StatusOK))
	require.Equal(t, 2, page.Count)
}

func TestListAllPaging(t *testing.T) {
	s := newTestServer(t)

	s.call(t, http.MethodPost, "/api/assets/bulk", &admin, CreateBulkRequest{Codes: []string{"P1", "P2", "P3"}}, http.StatusCreated)

	page := decodeData[lifecycle.Page](t, s.call(t, http.MethodGet, "/api/assets?limit=2", &employee, nil, http.StatusOK))
	require.Equal(t, 2, page.Limit)
	require.Equal(t, 0, page.Offset)
	require.Equal(t, 2, page.Count)

	page = decodeData[lifecycle.Page](t, s.call(t, http.MethodGet, "/api/assets?limit=2&offset=2", &employee, nil, http.StatusOK))
	require.Equal(t, 1, page.Count)

	page = decodeData[lifecycle.Page](t, s.call(t, http.MethodGet, "/api/assets?limit=100000&offset=-4", &employee, nil, http.StatusOK))
	require.Equal(t, 500, page.Limit)
	require.Equal(t, 0, page.Offset)
	require.Equal(t, 3, page.Count)
}

func TestETagRevalidation(t *testing.T) {
	s := newTestServer(t)

	s.call(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "E1"}, http.StatusCreated)

	resp := s.request(t, http.MethodGet, "/api/assets/inactive", &user1, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	require.Equal(t, "private, no-cache", resp.Header.Get("Cache-Control"))

	resp = s.request(t, http.MethodGet, "/api/assets/inactive", &user1, nil, map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, resp.StatusCode)

	s.call(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "E2"}, http.StatusCreated)

	resp = s.request(t, http.MethodGet, "/api/assets/inactive", &user1, nil, map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEqual(t, etag, resp.Header.Get("ETag"))
}

func TestMutationsAreNotCached(t *testing.T) {
	s := newTestServer(t)

	resp := s.request(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "N1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Empty(t, resp.Header.Get("ETag"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestCrossOriginProtection(t *testing.T) {
	s := newTestServer(t)

	resp := s.request(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "X1"}, map[string]string{
		"Origin":         "https://evil.example",
		"Sec-Fetch-Site": "cross-site",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.request(t, http.MethodPost, "/api/assets", &admin, CreateRequest{Code: "X1"}, map[string]string{
		"Origin":         testOrigin,
		"Sec-Fetch-Site": "cross-site",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	resp := s.request(t, http.MethodOptions, "/api/assets", nil, nil, map[string]string{
		"Origin":                         testOrigin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "authorization,content-type",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestRequestBodyLimit(t *testing.T) {
	s := newTestServer(t)

	big := `{"codes":["` + strings.Repeat("x", maxBodyBytes) + `"]}`
	env := s.call(t, http.MethodPost, "/api/assets/bulk", &admin, big, http.StatusBadRequest)
	require.Equal(t, lifecycle.ReasonInvalidArgument, env.Reason)
	require.Contains(t, env.Message, "exceeds")
}

func TestMatchesETag(t *testing.T) {
	etag := `"00000000000000ff"`

	require.False(t, matchesETag("", etag))
	require.True(t, matchesETag("*", etag))
	require.True(t, matchesETag(etag, etag))
	require.True(t, matchesETag(`"abc", W/`+etag, etag))
	require.False(t, matchesETag(`"abc"`, etag))
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(lifecycle.ReasonInvalidArgument))
	require.Equal(t, http.StatusUnauthorized, statusFor(lifecycle.ReasonUnauthenticated))
	require.Equal(t, http.StatusForbidden, statusFor(lifecycle.ReasonForbidden))
	require.Equal(t, http.StatusNotFound, statusFor(lifecycle.ReasonNotFound))
	require.Equal(t, http.StatusConflict, statusFor(lifecycle.ReasonInvalidTransition))
	require.Equal(t, http.StatusConflict, statusFor(lifecycle.ReasonConflict))
	require.Equal(t, http.StatusConflict, statusFor(lifecycle.ReasonDuplicateCode))
	require.Equal(t, http.StatusInternalServerError, statusFor(lifecycle.ReasonSystemFault))
}
