// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth provides the credential and token lifecycle for Gatekeep accounts.
//
// # Domain Types
//
// Domain types (Account, ResetToken) should be created using their constructors:
//   - NewAccount - creates an unverified Account with a pending verify-email token
//   - NewResetToken - creates a ResetToken bound to an account
//
// Direct struct initialization bypasses validation and may create invalid state.
// One-time tokens are never persisted in plaintext; repositories only ever see
// the digest produced by HashToken.
//
// # Service
//
// Service is the credential lifecycle engine. It coordinates registration,
// email verification, login, forgot/reset password and bearer authentication
// over a Store, a PasswordHasher, a SessionSigner and a Notifier.
//
// Every error returned by Service carries one of the outcome codes declared in
// errors.go. ErrorCode and Message map an error to the code and the
// user-facing message a transport should expose.
package auth
