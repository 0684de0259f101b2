// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// Operation names used for tracing and metrics.
const (
	OpRegister            = "register"
	OpVerifyEmail         = "verify_email"
	OpLogin               = "login"
	OpForgotPassword      = "forgot_password"
	OpResetPassword       = "reset_password"
	OpAuthenticateRequest = "authenticate_request"
)

// Notification subjects.
const (
	SubjectVerifyEmail   = "Email Verification"
	SubjectResetPassword = "Reset Password"
)

// DefaultBaseURL is the link base used when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// Identity is the claim set carried by a session credential.
type Identity struct {
	AccountID ulid.ULID
	Email     string
}

// SessionSigner issues and verifies session credentials.
type SessionSigner interface {
	Issue(identity Identity) (string, error)
	// Verify returns the identity only for a well-formed, correctly signed,
	// unexpired credential.
	Verify(token string) (Identity, error)
}

// Notifier delivers a message to an email address.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// OutcomeRecorder observes the outcome of every Service operation.
type OutcomeRecorder interface {
	RecordOutcome(operation, outcome string)
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Profile     Profile
	AccessToken string
}

// Service is the credential lifecycle engine.
type Service struct {
	store    Store
	hasher   PasswordHasher
	signer   SessionSigner
	notifier Notifier

	newToken TokenGenerator
	recorder OutcomeRecorder
	logger   *slog.Logger
	tracer   trace.Tracer
	baseURL  string
	resetTTL time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTokenGenerator replaces NewToken.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(s *Service) { s.newToken = gen }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(recorder OutcomeRecorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithBaseURL sets the base of links embedded in notifications.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithResetTokenTTL bounds the lifetime of reset tokens. Zero, the default, disables expiry.
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.resetTTL = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store Store, hasher PasswordHasher, signer SessionSigner, notifier Notifier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if signer == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session signer is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("notifier is required")
	}

	s := &Service{
		store:    store,
		hasher:   hasher,
		signer:   signer,
		notifier: notifier,
		newToken: NewToken,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/gatekeep/gatekeep/internal/auth"),
		baseURL:  DefaultBaseURL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resetTTL < 0 {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("reset_ttl", s.resetTTL.String()).Errorf("reset token ttl cannot be negative")
	}
	return s, nil
}

// Register creates an unverified account and sends it a verification link.
// A failed notification is logged and does not fail the registration.
func (s *Service) Register(ctx context.Context, fullName, email, password string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(ctx, span, OpRegister, err) }()

	switch {
	case strings.TrimSpace(fullName) == "":
		return invalidInput("fullName", "Full name is required")
	case email == "":
		return invalidInput("email", "Email is required")
	case password == "":
		return invalidInput("password", "Password is required")
	}

	accounts := s.store.Accounts()

	if _, lookupErr := accounts.GetByEmail(ctx, email); lookupErr == nil {
		return outcome(CodeDuplicateEmail).Errorf("email already registered")
	} else if !errors.Is(lookupErr, ErrNotFound) {
		return internalError("get account by email", lookupErr)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return internalError("hash password", err)
	}

	token, err := s.newToken()
	if err != nil {
		return internalError("generate verification token", err)
	}

	account, err := NewAccount(fullName, email, passwordHash, HashToken(token))
	if err != nil {
		return internalError("new account", err)
	}

	if err := accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return outcome(CodeDuplicateEmail).Errorf("email already registered")
		}
		return internalError("create account", err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())

	s.notify(ctx, account.Email, SubjectVerifyEmail, verifyEmailBody(account.FullName, s.link("verify-email", token)))
	return nil
}

// VerifyEmail consumes a verify-email token. Verification happens at most once per token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyEmail")
	defer func() { s.finish(ctx, span, OpVerifyEmail, err) }()

	if token == "" {
		return outcome(CodeTokenNotFound).Errorf("verification token is empty")
	}
	tokenHash := HashToken(token)
	accounts := s.store.Accounts()

	account, err := accounts.GetByPendingToken(ctx, tokenHash, PurposeVerifyEmail)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return outcome(CodeTokenNotFound).Errorf("verification token not found")
		}
		return internalError("get account by pending token", err)
	}

	if err := accounts.ConsumePendingToken(ctx, account.ID, tokenHash, PurposeVerifyEmail); err != nil {
		if errors.Is(err, ErrConflict) {
			return outcome(CodeTokenNotFound).
				With("account_id", account.ID.String()).
				Errorf("verification token consumed concurrently")
		}
		return internalError("consume pending token", err)
	}

	s.logger.InfoContext(ctx, "email verified", "account_id", account.ID.String())
	return nil
}

// Login authenticates a verified account and issues a session credential.
// An unverified account fails before its password is compared.
func (s *Service) Login(ctx context.Context, email, password string) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(ctx, span, OpLogin, err) }()

	accounts := s.store.Accounts()

	account, err := accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, outcome(CodeNotFound).Errorf("no account for email")
		}
		return nil, internalError("get account by email", err)
	}

	if !account.EmailVerified {
		return nil, outcome(CodeEmailNotVerified).With("account_id", account.ID.String()).Errorf("email not verified")
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return nil, outcome(CodeInvalidCredentials).With("account_id", account.ID.String()).Errorf("password mismatch")
	}

	if s.hasher.NeedsRehash(account.PasswordHash) {
		s.rehash(ctx, accounts, account, password)
	}

	token, err := s.signer.Issue(Identity{AccountID: account.ID, Email: account.Email})
	if err != nil {
		return nil, internalError("issue session", err)
	}

	return &LoginResult{Profile: account.Profile(), AccessToken: token}, nil
}

// rehash upgrades a stored hash to the current parameters. It never fails the login.
func (s *Service) rehash(ctx context.Context, accounts AccountRepository, account *Account, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "account_id", account.ID.String(), "error", err)
		return
	}
	if err := accounts.RehashPassword(ctx, account.ID, account.PasswordHash, newHash); err != nil {
		s.logger.WarnContext(ctx, "password rehash not stored", "account_id", account.ID.String(), "error", err)
		return
	}
	account.PasswordHash = newHash
}

// ForgotPassword issues a reset token for the account and sends it a reset link.
// Outstanding reset tokens of the account stay valid.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ForgotPassword")
	defer func() { s.finish(ctx, span, OpForgotPassword, err) }()

	account, err := s.store.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return outcome(CodeNotFound).Errorf("no account for email")
		}
		return internalError("get account by email", err)
	}

	token, err := s.newToken()
	if err != nil {
		return internalError("generate reset token", err)
	}

	reset, err := NewResetToken(account.ID, HashToken(token), s.resetTTL)
	if err != nil {
		return internalError("new reset token", err)
	}

	if err := s.store.ResetTokens().Create(ctx, reset); err != nil {
		return internalError("create reset token", err)
	}

	s.notify(ctx, account.Email, SubjectResetPassword, resetPasswordBody(account.FullName, s.link("reset-password", token)))
	return nil
}

// ResetPassword sets a new password using a reset token and consumes the token.
// The password update and the token deletion commit together; on any failure
// the token remains valid.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword")
	defer func() { s.finish(ctx, span, OpResetPassword, err) }()

	if token == "" {
		return outcome(CodeTokenNotFound).Errorf("reset token is empty")
	}
	if newPassword == "" {
		return invalidInput("newPassword", "New password is required")
	}
	tokenHash := HashToken(token)

	var accountID ulid.ULID
	err = s.store.WithinTx(ctx, func(tx Repositories) error {
		reset, err := tx.ResetTokens().GetByTokenHash(ctx, tokenHash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return outcome(CodeTokenNotFound).Errorf("reset token not found")
			}
			return internalError("get reset token", err)
		}
		if reset.IsExpired(s.now()) {
			return outcome(CodeTokenNotFound).With("reset_id", reset.ID.String()).Errorf("reset token expired")
		}

		if _, err := tx.Accounts().GetByID(ctx, reset.AccountID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return outcome(CodeNotFound).With("account_id", reset.AccountID.String()).Errorf("account for reset token not found")
			}
			return internalError("get account by id", err)
		}

		passwordHash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return internalError("hash password", err)
		}

		if err := tx.Accounts().UpdatePassword(ctx, reset.AccountID, passwordHash); err != nil {
			if errors.Is(err, ErrNotFound) {
				return outcome(CodeNotFound).With("account_id", reset.AccountID.String()).Errorf("account for reset token not found")
			}
			return internalError("update password", err)
		}

		if err := tx.ResetTokens().Delete(ctx, reset.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return outcome(CodeTokenNotFound).With("reset_id", reset.ID.String()).Errorf("reset token consumed concurrently")
			}
			return internalError("delete reset token", err)
		}

		accountID = reset.AccountID
		return nil
	})
	if err != nil {
		if isOutcome(err) {
			return err
		}
		return internalError("reset password transaction", err)
	}

	s.logger.InfoContext(ctx, "password reset", "account_id", accountID.String())
	return nil
}

// AuthenticateRequest resolves the account behind a bearer session credential.
func (s *Service) AuthenticateRequest(ctx context.Context, bearerToken string) (account *Account, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.AuthenticateRequest")
	defer func() { s.finish(ctx, span, OpAuthenticateRequest, err) }()

	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return nil, outcome(CodeMissingCredential).Errorf("no bearer token")
	}

	identity, verifyErr := s.signer.Verify(bearerToken)
	if verifyErr != nil {
		s.logger.DebugContext(ctx, "session verification failed", "error", verifyErr)
		return nil, outcome(CodeInvalidCredential).Errorf("session credential rejected")
	}

	account, err = s.store.Accounts().GetByID(ctx, identity.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, outcome(CodeNotFound).With("account_id", identity.AccountID.String()).Errorf("session account not found")
		}
		return nil, internalError("get account by id", err)
	}
	return account, nil
}

func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if err := s.notifier.Send(ctx, to, subject, body); err != nil {
		s.logger.WarnContext(ctx, "notification failed", "subject", subject, "error", err)
	}
}

func (s *Service) link(route, token string) string {
	return s.baseURL + "/auth/" + route + "/" + url.PathEscape(token)
}

func (s *Service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	defer span.End()

	code := ErrorCode(err)
	label := "ok"
	if err != nil {
		label = strings.ToLower(code)
		span.SetAttributes(attribute.String("auth.outcome", code))
		span.SetStatus(codes.Error, code)
		if code == CodeInternal {
			span.RecordError(err)
			errutil.LogError(ctx, s.logger, operation+" failed", err)
		}
	}
	if s.recorder != nil {
		s.recorder.RecordOutcome(operation, label)
	}
}

func isOutcome(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	code, _ := oopsErr.Code().(string)
	_, known := messages[code]
	return known
}

func verifyEmailBody(fullName, link string) string {
	return fmt.Sprintf("Hi %s,\n\nPlease verify your email address by opening the link below:\n\n%s\n", fullName, link)
}

func resetPasswordBody(fullName, link string) string {
	return fmt.Sprintf("Hi %s,\n\nA password reset was requested for your account. "+
		"Open the link below to choose a new password:\n\n%s\n\n"+
		"If you did not request this, you can ignore this email.\n", fullName, link)
}
