// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const maxBodyBytes = 1 << 20

type registerRequest struct {
	FullName string `json:"fullName" validate:"notblank,max=200"`
	Email    string `json:"email" validate:"notblank,email,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"notblank"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,max=1024"`
}

type userDetails struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type response struct {
	IsSuccessful bool         `json:"isSuccessful"`
	Message      string       `json:"message,omitempty"`
	UserDetails  *userDetails `json:"userDetails,omitempty"`
	AccessToken  string       `json:"accessToken,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// required accepts whitespace-only strings.
	//nolint:errcheck // tag name and func are static
	v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into dst and validates it. Errors carry a message
// suitable for the client.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		msg := "Invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "Request body too large"
		}
		return oops.Code(auth.CodeValidation).Public(msg).Wrap(errors.Join(errBadRequest, err))
	}
	return a.check(dst)
}

func (a *API) check(dst any) error {
	err := a.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.Code(auth.CodeValidation).Public("Invalid request").Wrap(errors.Join(errBadRequest, err))
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, describe(fe))
	}
	return oops.Code(auth.CodeValidation).
		Public("Invalid request: "+strings.Join(parts, "; ")).
		Wrap(errors.Join(errBadRequest, err))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}
