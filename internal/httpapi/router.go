// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package httpapi exposes the auth engine as a JSON HTTP API under /auth.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// AuthService is the subset of *auth.Service the API calls.
type AuthService interface {
	Register(ctx context.Context, fullName, email, password string) error
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	AuthenticateRequest(ctx context.Context, bearerToken string) (*auth.Account, error)
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	RecordHTTPRequest(route string, status int)
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger for access logs and handler faults.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithRequestRecorder sets the metrics sink for served requests.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(a *API) { a.recorder = r }
}

// API serves the auth routes.
type API struct {
	svc      AuthService
	logger   *slog.Logger
	recorder RequestRecorder
	validate *validator.Validate
}

// New creates the API handler.
func New(svc AuthService, opts ...Option) *API {
	a := &API{
		svc:      svc,
		logger:   slog.Default(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed handler with middleware applied.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.requestID, a.accessLog, a.recoverer)

	r.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)

	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	authRouter.HandleFunc("/verify-email/{token}", a.handleVerifyEmail).Methods(http.MethodGet)
	authRouter.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	authRouter.HandleFunc("/forget-password", a.handleForgotPassword).Methods(http.MethodPost)
	authRouter.HandleFunc("/forgot-password", a.handleForgotPassword).Methods(http.MethodPost)
	authRouter.HandleFunc("/reset-password/{token}", a.handleResetPassword).Methods(http.MethodPost)
	authRouter.Handle("/profile", a.requireBearer(http.HandlerFunc(a.handleProfile))).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, response{Message: "Route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, response{Message: "Method not allowed"})
	})
	return r
}

// NewHTTPServer wraps handler in an http.Server with conservative timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
