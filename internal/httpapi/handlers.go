package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"geopatch/internal/auth"
	"geopatch/internal/override"
)

// OverrideStore is the versioned record store behind the /api/override
// endpoints.
type OverrideStore interface {
	GetLatest(ctx context.Context, key override.Key) (*override.Record, error)
	Add(ctx context.Context, key override.Key, values map[string]interface{}) (*override.Record, error)
	Remove(ctx context.Context, key override.Key) (*override.Record, error)
}

// UserDirectory registers users and verifies logins.
type UserDirectory interface {
	Register(ctx context.Context, email, password string) error
	Authenticate(ctx context.Context, email, password string) error
}

type API struct {
	Overrides OverrideStore
	Users     UserDirectory
	Sessions  *Sessions
	Logger    *zap.SugaredLogger
}

const sessionCookie = "geopatch_session"

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	body, err := readBody(r)
	if err != nil {
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, false
	}
	return req, req.Email != "" && req.Password != ""
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, errorBody("method not allowed"))
		return
	}
	req, ok := readCredentials(r)
	if !ok {
		writeJSON(w, 400, errorBody("email and password are required"))
		return
	}

	err := a.Users.Register(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrUserExists) {
		writeJSON(w, 409, errorBody("user already exists"))
		return
	}
	if err != nil {
		a.Logger.Errorf("register %s: %v", req.Email, err)
		writeJSON(w, 500, errorBody("storage error"))
		return
	}

	writeJSON(w, 200, map[string]interface{}{"email": req.Email})
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, errorBody("method not allowed"))
		return
	}
	req, ok := readCredentials(r)
	if !ok {
		writeJSON(w, 400, errorBody("email and password are required"))
		return
	}

	err := a.Users.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		writeJSON(w, 401, errorBody("invalid email or password"))
		return
	}
	if err != nil {
		a.Logger.Errorf("login %s: %v", req.Email, err)
		writeJSON(w, 500, errorBody("storage error"))
		return
	}

	token := a.Sessions.Create(req.Email)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
	writeJSON(w, 200, map[string]interface{}{"token": token, "email": req.Email})
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, errorBody("method not allowed"))
		return
	}
	if token := bearerToken(r); token != "" {
		a.Sessions.Revoke(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, 200, map[string]interface{}{"ok": true})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// requireUser resolves the session token to the owner email and hands it to
// the wrapped handler. The override store performs no authentication of its
// own and trusts this identity.
func (a *API) requireUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, 401, errorBody("not logged in"))
			return
		}
		email, ok := a.Sessions.Lookup(token)
		if !ok {
			writeJSON(w, 401, errorBody("session expired"))
			return
		}
		next(w, r, email)
	}
}

type overrideRequest struct {
	Latitude  string                 `json:"latitude"`
	Longitude string                 `json:"longitude"`
	Date      string                 `json:"date"`
	Values    map[string]interface{} `json:"values"`
}

func (a *API) Override(w http.ResponseWriter, r *http.Request, owner string) {
	switch r.Method {
	case http.MethodGet:
		a.getOverride(w, r, owner)
	case http.MethodPost:
		a.addOverride(w, r, owner)
	case http.MethodDelete:
		a.removeOverride(w, r, owner)
	default:
		writeJSON(w, 405, errorBody("method not allowed"))
	}
}

func keyFromQuery(r *http.Request, owner string) (override.Key, bool) {
	q := r.URL.Query()
	key := override.Key{
		Latitude:  q.Get("latitude"),
		Longitude: q.Get("longitude"),
		Date:      q.Get("date"),
		Owner:     owner,
	}
	return key, key.Latitude != "" && key.Longitude != "" && key.Date != ""
}

func (a *API) getOverride(w http.ResponseWriter, r *http.Request, owner string) {
	key, ok := keyFromQuery(r, owner)
	if !ok {
		writeJSON(w, 400, errorBody("latitude, longitude and date are required"))
		return
	}

	rec, err := a.Overrides.GetLatest(r.Context(), key)
	if err != nil {
		a.Logger.Errorf("get override: %v", err)
		writeJSON(w, 500, errorBody("storage error"))
		return
	}
	if rec == nil {
		writeJSON(w, 404, errorBody("no active override"))
		return
	}
	writeJSON(w, 200, rec)
}

func (a *API) addOverride(w http.ResponseWriter, r *http.Request, owner string) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, 400, errorBody("bad body"))
		return
	}
	var req overrideRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, 400, errorBody("bad json"))
		return
	}
	if req.Latitude == "" || req.Longitude == "" || req.Date == "" {
		writeJSON(w, 400, errorBody("latitude, longitude and date are required"))
		return
	}
	if req.Values == nil {
		req.Values = map[string]interface{}{}
	}

	key := override.Key{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Date:      req.Date,
		Owner:     owner,
	}
	rec, err := a.Overrides.Add(r.Context(), key, req.Values)
	if err != nil {
		a.Logger.Errorf("add override: %v", err)
		writeJSON(w, 500, errorBody("storage error"))
		return
	}
	writeJSON(w, 200, rec)
}

func (a *API) removeOverride(w http.ResponseWriter, r *http.Request, owner string) {
	key, ok := keyFromQuery(r, owner)
	if !ok {
		writeJSON(w, 400, errorBody("latitude, longitude and date are required"))
		return
	}

	rec, err := a.Overrides.Remove(r.Context(), key)
	if err != nil {
		a.Logger.Errorf("remove override: %v", err)
		writeJSON(w, 500, errorBody("storage error"))
		return
	}
	if rec == nil {
		writeJSON(w, 404, errorBody("no active override"))
		return
	}
	writeJSON(w, 200, rec)
}
