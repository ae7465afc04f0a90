package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/database"
	"slotbook/internal/models"
	"slotbook/internal/service"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type credentialsRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

func (s *HTTPServer) decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSONStrict(r, &req); err != nil {
			return req, fmt.Errorf("%w: invalid JSON body", service.ErrValidation)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: bad form", service.ErrValidation)
		}
		req.UserName = r.FormValue("user_name")
		req.Email = r.FormValue("email")
		req.Password = r.FormValue("password")
	}
	req.UserName = strings.TrimSpace(req.UserName)
	req.Email = strings.TrimSpace(req.Email)
	if req.UserName == "" || req.Password == "" {
		return req, fmt.Errorf("%w: user_name and password are required", service.ErrValidation)
	}
	return req, nil
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := s.decodeCredentials(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	user := &models.User{
		UserName:     req.UserName,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := s.users.CreateUser(r.Context(), user); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info().Str("user_name", user.UserName).Msg("user registered")
	writeJSON(w, http.StatusCreated, user)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := s.decodeCredentials(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	user, err := s.users.GetUserByName(r.Context(), req.UserName)
	if err != nil {
		// Не раскрываем, существует ли пользователь.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	session := &models.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		UserName:  user.UserName,
		Role:      user.Role,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.SetSession(r.Context(), session); err != nil {
		s.writeServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    session.Token,
		Path:     "/",
		MaxAge:   s.sessionTTLSeconds(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info().Str("user_name", user.UserName).Msg("user logged in")
	writeJSON(w, http.StatusOK, map[string]any{
		"user_name": user.UserName,
		"role":      user.Role,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if cookie, err := r.Cookie(s.cookieName()); err == nil && cookie.Value != "" {
		if err := s.sessions.DeleteSession(r.Context(), cookie.Value); err != nil {
			s.logger.Warn().Err(err).Msg("delete session error")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	p := s.principal(r)
	if p.IsAnonymous() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) sessionTTLSeconds() int {
	if s.cfg.Session.TTLSeconds > 0 {
		return s.cfg.Session.TTLSeconds
	}
	return models.DefaultSessionTTL
}
