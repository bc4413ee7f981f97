package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"geopatch/internal/auth"
	"geopatch/internal/fsconn"
	"geopatch/internal/httpapi"
	"geopatch/internal/override"
)

const (
	EnvNameAddr           = "GEOPATCH_ADDR"
	EnvNameProjectId      = "GEOPATCH_PROJECT_ID"
	EnvNameStaticDir      = "GEOPATCH_STATIC_DIR"
	EnvNameSessionTTL     = "GEOPATCH_SESSION_TTL_SECONDS"
	EnvNameConnectTimeout = "GEOPATCH_CONNECT_TIMEOUT_SECONDS"
	EnvNamePepper         = "GEOPATCH_PEPPER_BASE64"
	EnvNamePepperSecretId = "GEOPATCH_PEPPER_SECRET_ID"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	addr := envOr(EnvNameAddr, ":8080")
	staticDir := envOr(EnvNameStaticDir, "./static")
	projectID := envOr(EnvNameProjectId, "")
	if projectID == "" {
		sugar.Fatalf("%s must be set", EnvNameProjectId)
	}

	connectTimeout := time.Duration(envIntOr(EnvNameConnectTimeout,
		fsconn.DefaultConnectTimeoutSeconds)) * time.Second
	sessionTTL := time.Duration(envIntOr(EnvNameSessionTTL, 0)) * time.Second

	conn := fsconn.New(projectID, connectTimeout, sugar)
	defer conn.Close()

	users := auth.NewUsers(conn, sugar)
	if b64 := os.Getenv(EnvNamePepper); b64 != "" {
		pepper, err := auth.DecodePepper(b64)
		if err != nil {
			sugar.Fatalf("bad %s: %v", EnvNamePepper, err)
		}
		users.Pepper = pepper
	} else if secretID := os.Getenv(EnvNamePepperSecretId); secretID != "" {
		pepper, err := auth.PepperFromSecret(context.Background(), projectID, secretID)
		if err != nil {
			sugar.Fatalf("unable to load pepper: %v", err)
		}
		users.Pepper = pepper
	}

	api := &httpapi.API{
		Overrides: override.New(conn, sugar),
		Users:     users,
		Sessions:  httpapi.NewSessions(sessionTTL),
		Logger:    sugar,
	}

	sugar.Infof("geopatch listening on %s", addr)
	if err := http.ListenAndServe(addr, api.Routes(staticDir)); err != nil {
		sugar.Fatalf("server exited: %v", err)
	}
}

func envOr(name, fallback string) string {
	if value, found := os.LookupEnv(name); found && value != "" {
		return value
	}
	return fallback
}

func envIntOr(name string, fallback int) int {
	if value, found := os.LookupEnv(name); found && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
