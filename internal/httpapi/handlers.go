// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	ResetKey    string `json:"resetKey"`
	NewPassword string `json:"newPassword"`
}

type userDetails struct {
	Email string `json:"email"`
}

// apiResponse is the common response envelope.
type apiResponse struct {
	Success     bool         `json:"success,omitempty"`
	Message     string       `json:"message,omitempty"`
	Role        string       `json:"role,omitempty"`
	RedirectURL string       `json:"redirectUrl,omitempty"`
	User        *userDetails `json:"user,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response write error means the client went away
	json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid request body."})
		return false
	}
	return true
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Email and password are required."})
		return
	}

	_, err := s.auth.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		s.countSignup("failure")
		s.writeError(w, r, err)
		return
	}

	s.countSignup("success")
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Account created successfully!"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Email and password are required."})
		return
	}

	session, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.countLogin("failure")
		s.writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, token)
	s.countLogin("success")

	role := ""
	if session.Role != nil {
		role = *session.Role
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Role: role, Message: "Login successful!"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFromRequest(r)
	if session == nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "No user is logged in."})
		return
	}

	if err := s.auth.Logout(r.Context(), session.ID); err != nil {
		if errutil.Code(err) == "SESSION_NOT_FOUND" {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "No user is logged in."})
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.clearSessionCookie(w)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Surrogate-Control", "no-store")
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Logged out successfully."})
}

func (s *Server) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	account, err := s.auth.Profile(r.Context(), session)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		User:    &userDetails{Email: account.Email},
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Email is required"})
		return
	}

	if err := s.recovery.RequestToken(r.Context(), req.Email); err != nil {
		s.countReset("request", "failure")
		s.writeError(w, r, err)
		return
	}

	s.countReset("request", "success")
	writeJSON(w, http.StatusOK, apiResponse{Message: "Password reset token generated and saved"})
}

func (s *Server) handleSendPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Email is required"})
		return
	}

	if err := s.recovery.IssueCode(r.Context(), req.Email); err != nil {
		s.countReset("issue", "failure")
		s.writeError(w, r, err)
		return
	}

	s.countReset("issue", "success")
	writeJSON(w, http.StatusOK, apiResponse{
		Message:     "Password reset code sent",
		RedirectURL: "/reset-password.html",
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.recovery.Complete(r.Context(), req.ResetKey, req.NewPassword); err != nil {
		s.countReset("complete", "failure")
		s.writeError(w, r, err)
		return
	}

	s.countReset("complete", "success")
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Your password has been successfully reset."})
}

// writeError maps a service error to an HTTP response. Storage and other
// internal failures log the full error and return a generic message unless
// the server runs in development mode.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch errutil.Code(err) {
	case "AUTH_INVALID_EMAIL":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid email format."})
	case "AUTH_WEAK_PASSWORD":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Password does not meet complexity requirements."})
	case "AUTH_EMPTY_PASSWORD", "AUTH_PASSWORD_TOO_LONG":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Password does not meet complexity requirements."})
	case "AUTH_EMAIL_TAKEN":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Email already registered."})
	case "AUTH_INVALID_CREDENTIALS":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid email or password."})
	case "AUTH_ACCOUNT_LOCKED":
		writeJSON(w, http.StatusForbidden, apiResponse{Message: lockedMessage(err)})
	case "SESSION_INVALID", "SESSION_TOKEN_EMPTY":
		writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "Unauthorized access."})
	case "ACCOUNT_GONE":
		writeJSON(w, http.StatusNotFound, apiResponse{Message: "User not found."})
	case "RESET_ACCOUNT_NOT_FOUND":
		writeJSON(w, http.StatusNotFound, apiResponse{Message: "No account with that email exists"})
	case "RESET_INVALID_EMAIL":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid email format."})
	case "RESET_INVALID_SECRET":
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid or expired reset key."})
	default:
		errutil.LogError(s.logger.With("method", r.Method, "path", r.URL.Path), "request failed", err)
		msg := "An internal server error occurred."
		if s.cfg.Development {
			msg = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: msg})
	}
}

// lockedMessage renders the lockout message with the remaining minutes the
// service attached to the error.
func lockedMessage(err error) string {
	if o, ok := oops.AsOops(err); ok {
		if minutes, ok := o.Context()["remaining_minutes"].(int); ok {
			return fmt.Sprintf("Account is locked. Try again in %d minutes.", minutes)
		}
	}
	return "Account is locked due to multiple failed login attempts. Please try again after 30 minutes."
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   !s.cfg.Development,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !s.cfg.Development,
		SameSite: http.SameSiteStrictMode,
	})
}
