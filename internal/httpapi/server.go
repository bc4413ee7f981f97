package httpapi

import "net/http"

// Routes builds the mux: the JSON API plus, when staticDir is set, static
// files for everything outside /api/.
func (a *API) Routes(staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", a.Register)
	mux.HandleFunc("/api/login", a.Login)
	mux.HandleFunc("/api/logout", a.Logout)
	mux.HandleFunc("/api/override", a.requireUser(a.Override))
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}
