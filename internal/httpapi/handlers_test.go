package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"geopatch/internal/auth"
	"geopatch/internal/override"
)

type fakeOverrides struct {
	latest  *override.Record
	added   *override.Record
	removed *override.Record
	err     error

	lastKey    override.Key
	lastValues map[string]interface{}
}

func (f *fakeOverrides) GetLatest(ctx context.Context, key override.Key) (*override.Record, error) {
	f.lastKey = key
	return f.latest, f.err
}

func (f *fakeOverrides) Add(ctx context.Context, key override.Key, values map[string]interface{}) (*override.Record, error) {
	f.lastKey = key
	f.lastValues = values
	return f.added, f.err
}

func (f *fakeOverrides) Remove(ctx context.Context, key override.Key) (*override.Record, error) {
	f.lastKey = key
	return f.removed, f.err
}

type fakeUsers struct {
	registerErr error
	authErr     error

	lastEmail    string
	lastPassword string
}

func (f *fakeUsers) Register(ctx context.Context, email, password string) error {
	f.lastEmail, f.lastPassword = email, password
	return f.registerErr
}

func (f *fakeUsers) Authenticate(ctx context.Context, email, password string) error {
	f.lastEmail, f.lastPassword = email, password
	return f.authErr
}

func newTestAPI() (*API, *fakeOverrides, *fakeUsers) {
	overrides := &fakeOverrides{}
	users := &fakeUsers{}
	api := &API{
		Overrides: overrides,
		Users:     users,
		Sessions:  NewSessions(time.Minute),
		Logger:    zap.NewNop().Sugar(),
	}
	return api, overrides, users
}

func doJSON(mux *http.ServeMux, method, target, body, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	decoded := map[string]interface{}{}
	_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	return rr, decoded
}

func TestRegister(t *testing.T) {
	api, _, users := newTestAPI()
	mux := api.Routes("")

	rr, body := doJSON(mux, "POST", "/api/register", `{"email":"a@x.com","password":"hunter2"}`, "")
	assert.Equal(t, 200, rr.Code)
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "a@x.com", users.lastEmail)
	assert.Equal(t, "hunter2", users.lastPassword)

	rr, _ = doJSON(mux, "POST", "/api/register", `{"email":"a@x.com"}`, "")
	assert.Equal(t, 400, rr.Code)

	rr, _ = doJSON(mux, "POST", "/api/register", `not json`, "")
	assert.Equal(t, 400, rr.Code)

	rr, _ = doJSON(mux, "GET", "/api/register", "", "")
	assert.Equal(t, 405, rr.Code)

	users.registerErr = auth.ErrUserExists
	rr, _ = doJSON(mux, "POST", "/api/register", `{"email":"a@x.com","password":"hunter2"}`, "")
	assert.Equal(t, 409, rr.Code)

	users.registerErr = fmt.Errorf("firestore is down")
	rr, body = doJSON(mux, "POST", "/api/register", `{"email":"a@x.com","password":"hunter2"}`, "")
	assert.Equal(t, 500, rr.Code)
	assert.Equal(t, "storage error", body["error"])
}

func TestLogin(t *testing.T) {
	api, _, users := newTestAPI()
	mux := api.Routes("")

	rr, body := doJSON(mux, "POST", "/api/login", `{"email":"a@x.com","password":"hunter2"}`, "")
	assert.Equal(t, 200, rr.Code)

	token, _ := body["token"].(string)
	assert.NotEmpty(t, token)
	email, ok := api.Sessions.Lookup(token)
	assert.True(t, ok)
	assert.Equal(t, "a@x.com", email)

	// The token also rides on a cookie.
	cookies := rr.Result().Cookies()
	assert.Len(t, cookies, 1)
	assert.Equal(t, sessionCookie, cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)

	users.authErr = auth.ErrBadCredentials
	rr, _ = doJSON(mux, "POST", "/api/login", `{"email":"a@x.com","password":"wrong"}`, "")
	assert.Equal(t, 401, rr.Code)

	rr, _ = doJSON(mux, "POST", "/api/login", `{}`, "")
	assert.Equal(t, 400, rr.Code)
}

func TestLogout(t *testing.T) {
	api, _, _ := newTestAPI()
	mux := api.Routes("")

	token := api.Sessions.Create("a@x.com")
	rr, _ := doJSON(mux, "POST", "/api/logout", "", token)
	assert.Equal(t, 200, rr.Code)

	_, ok := api.Sessions.Lookup(token)
	assert.False(t, ok)

	// The session is gone, so the override API rejects the token.
	rr, _ = doJSON(mux, "GET", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", token)
	assert.Equal(t, 401, rr.Code)
}

func TestOverride_RequiresSession(t *testing.T) {
	api, _, _ := newTestAPI()
	mux := api.Routes("")

	rr, _ := doJSON(mux, "GET", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", "")
	assert.Equal(t, 401, rr.Code)

	rr, _ = doJSON(mux, "GET", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", "stale-token")
	assert.Equal(t, 401, rr.Code)
}

func TestOverride_Get(t *testing.T) {
	api, overrides, _ := newTestAPI()
	mux := api.Routes("")
	token := api.Sessions.Create("a@x.com")

	rr, _ := doJSON(mux, "GET", "/api/override?latitude=12.0", "", token)
	assert.Equal(t, 400, rr.Code)

	rr, _ = doJSON(mux, "GET", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", token)
	assert.Equal(t, 404, rr.Code)
	assert.Equal(t, override.Key{
		Latitude:  "12.0",
		Longitude: "77.0",
		Date:      "2024-01-01",
		Owner:     "a@x.com",
	}, overrides.lastKey)

	overrides.latest = &override.Record{
		Latitude:  "12.0",
		Longitude: "77.0",
		Date:      "2024-01-01",
		Owner:     "a@x.com",
		Values:    map[string]interface{}{"temp": 20.0},
		Version:   2,
		Active:    true,
	}
	rr, body := doJSON(mux, "GET", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", token)
	assert.Equal(t, 200, rr.Code)
	assert.EqualValues(t, 2, body["version"])
	assert.Equal(t, true, body["active"])
}

func TestOverride_Add(t *testing.T) {
	api, overrides, _ := newTestAPI()
	mux := api.Routes("")
	token := api.Sessions.Create("a@x.com")

	overrides.added = &override.Record{Version: 1, Active: true}

	rr, body := doJSON(mux, "POST", "/api/override",
		`{"latitude":"12.0","longitude":"77.0","date":"2024-01-01","values":{"temp":10}}`, token)
	assert.Equal(t, 200, rr.Code)
	assert.EqualValues(t, 1, body["version"])

	// The owner comes from the session, never from the request body.
	assert.Equal(t, "a@x.com", overrides.lastKey.Owner)
	assert.Equal(t, map[string]interface{}{"temp": 10.0}, overrides.lastValues)

	// Omitted values become an empty payload.
	rr, _ = doJSON(mux, "POST", "/api/override",
		`{"latitude":"12.0","longitude":"77.0","date":"2024-01-01"}`, token)
	assert.Equal(t, 200, rr.Code)
	assert.Equal(t, map[string]interface{}{}, overrides.lastValues)

	rr, _ = doJSON(mux, "POST", "/api/override", `{"latitude":"12.0"}`, token)
	assert.Equal(t, 400, rr.Code)

	rr, _ = doJSON(mux, "POST", "/api/override", `not json`, token)
	assert.Equal(t, 400, rr.Code)
}

func TestOverride_Remove(t *testing.T) {
	api, overrides, _ := newTestAPI()
	mux := api.Routes("")
	token := api.Sessions.Create("a@x.com")

	rr, _ := doJSON(mux, "DELETE", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", token)
	assert.Equal(t, 404, rr.Code)

	overrides.removed = &override.Record{Version: 2, Active: false}
	rr, body := doJSON(mux, "DELETE", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", token)
	assert.Equal(t, 200, rr.Code)
	assert.EqualValues(t, 2, body["version"])
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "a@x.com", overrides.lastKey.Owner)
}

func TestOverride_MethodNotAllowed(t *testing.T) {
	api, _, _ := newTestAPI()
	mux := api.Routes("")
	token := api.Sessions.Create("a@x.com")

	rr, _ := doJSON(mux, "PATCH", "/api/override", "", token)
	assert.Equal(t, 405, rr.Code)
}

func TestOverride_StorageError(t *testing.T) {
	api, overrides, _ := newTestAPI()
	mux := api.Routes("")
	token := api.Sessions.Create("a@x.com")

	overrides.err = fmt.Errorf("firestore is down")
	rr, body := doJSON(mux, "GET", "/api/override?latitude=12.0&longitude=77.0&date=2024-01-01", "", token)
	assert.Equal(t, 500, rr.Code)
	assert.Equal(t, "storage error", body["error"])
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/override", nil)
	assert.Equal(t, "", bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", bearerToken(req))

	// The cookie is the fallback when no header is present.
	req = httptest.NewRequest("GET", "/api/override", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "xyz"})
	assert.Equal(t, "xyz", bearerToken(req))
}
