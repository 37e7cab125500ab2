// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides the authentication core for Gatehouse.
//
// # Domain Types
//
// Domain types (Account, Session, ResetToken) should be created using
// their respective constructors:
//   - NewAccount - creates an Account with a validated email and password hash
//   - NewSession - creates a Session with validated account and expiry
//   - NewResetToken - creates a ResetToken record with validated expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - signup, login, logout, profile lookup
//   - RecoveryService - password recovery by code or token
//
// Services are created with New*Service constructors that validate dependencies.
package auth
