// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// statusFor maps an outcome code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case auth.CodeDuplicateEmail, auth.CodeEmailNotVerified, auth.CodeInvalidCredentials, auth.CodeValidation:
		return http.StatusBadRequest
	case auth.CodeNotFound, auth.CodeTokenNotFound:
		return http.StatusNotFound
	case auth.CodeMissingCredential, auth.CodeInvalidCredential:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// writeError renders err. overrides replaces the message for specific outcome codes.
func writeError(w http.ResponseWriter, err error, overrides map[string]string) {
	if errors.Is(err, errBadRequest) {
		writeJSON(w, http.StatusBadRequest, response{Message: oops.GetPublic(err, "Invalid request")})
		return
	}

	code := auth.ErrorCode(err)
	msg, ok := overrides[code]
	switch {
	case ok:
	case code == auth.CodeValidation:
		msg = oops.GetPublic(err, auth.MsgValidation)
	default:
		msg = auth.Message(err)
	}
	writeJSON(w, statusFor(code), response{Message: msg})
}

func (a *API) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{IsSuccessful: true, Message: "Welcome to gatekeep"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	if err := a.svc.Register(r.Context(), req.FullName, req.Email, req.Password); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, response{IsSuccessful: true, Message: auth.MsgRegistered})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := a.svc.VerifyEmail(r.Context(), token); err != nil {
		writeError(w, err, map[string]string{auth.CodeTokenNotFound: auth.MsgInvalidCredential})
		return
	}
	writeJSON(w, http.StatusOK, response{IsSuccessful: true, Message: auth.MsgEmailVerified})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	result, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{
		IsSuccessful: true,
		Message:      auth.MsgLoggedIn,
		UserDetails:  details(result.Profile),
		AccessToken:  result.AccessToken,
	})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	if err := a.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err, map[string]string{auth.CodeNotFound: "Email not found"})
		return
	}
	writeJSON(w, http.StatusOK, response{IsSuccessful: true, Message: auth.MsgResetLinkSent})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var req resetPasswordRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	if err := a.svc.ResetPassword(r.Context(), token, req.NewPassword); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, response{IsSuccessful: true, Message: auth.MsgPasswordReset})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Message: auth.MsgNotFound})
		return
	}
	writeJSON(w, http.StatusOK, response{
		IsSuccessful: true,
		UserDetails:  details(account.Profile()),
	})
}

func details(p auth.Profile) *userDetails {
	return &userDetails{UserID: p.ID.String(), FullName: p.FullName, Email: p.Email}
}
