package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotbook/internal/assets"
	"slotbook/internal/models"
	"slotbook/internal/service"
)

const reservationsPrefix = "/api/v1/reservations/"

// handleReservations serves the collection endpoint: paging list and
// creation.
func (s *HTTPServer) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listReservations(w, r)
	case http.MethodPost:
		s.createReservation(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleReservationByID dispatches /api/v1/reservations/{id}[/state]
// and the /export subresource.
func (s *HTTPServer) handleReservationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, reservationsPrefix)
	if rest == "export" {
		s.exportReservations(w, r)
		return
	}

	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	if action == "state" {
		s.setReservationState(w, r, id)
		return
	}
	if action != "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getReservation(w, r, id)
	case http.MethodPut:
		s.updateReservation(w, r, id)
	case http.MethodDelete:
		s.deleteReservation(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) listReservations(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", models.DefaultPageSize)

	// Метаданные считаем по фактическим значениям после клэмпа.
	items, total, page, pageSize, err := s.service.List(r.Context(), page, pageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, map[string]any{
		"reservations": items,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  totalPages,
	})
}

func (s *HTTPServer) getReservation(w http.ResponseWriter, r *http.Request, id int64) {
	res, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) createReservation(w http.ResponseWriter, r *http.Request) {
	location, start, end, upload, err := s.parseReservationForm(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	res, err := s.service.Create(r.Context(), s.principal(r), location, start, end, upload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) updateReservation(w http.ResponseWriter, r *http.Request, id int64) {
	location, start, end, upload, err := s.parseReservationForm(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	res, err := s.service.Update(r.Context(), s.principal(r), id, location, start, end, upload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) deleteReservation(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.service.Delete(r.Context(), s.principal(r), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *HTTPServer) setReservationState(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var action string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		action = body.Action
	} else {
		action = r.FormValue("action")
	}

	result, err := s.service.SetState(r.Context(), id, strings.TrimSpace(action))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) exportReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p := s.principal(r)
	if p.IsAnonymous() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	// save=true пишет файл в каталог экспорта вместо отдачи клиенту.
	if r.URL.Query().Get("save") == "true" {
		path, err := s.exporter.SaveReservations(r.Context(), s.cfg.Exports.Path)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"file": path})
		return
	}

	fileName := fmt.Sprintf("reservations_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	if err := s.exporter.WriteReservations(r.Context(), w); err != nil {
		s.logger.Error().Err(err).Msg("export error")
	}
}

// parseReservationForm reads location/start_time/end_time plus an
// optional "image" file from a multipart or urlencoded form.
func (s *HTTPServer) parseReservationForm(r *http.Request) (location, start, end string, upload *service.ImageUpload, err error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		// Лимит с запасом под поля формы.
		if err := r.ParseMultipartForm(models.MaxUploadBytes + 1<<20); err != nil {
			return "", "", "", nil, fmt.Errorf("%w: bad multipart form", service.ErrValidation)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return "", "", "", nil, fmt.Errorf("%w: bad form", service.ErrValidation)
		}
	}

	location = r.FormValue("location")
	start = r.FormValue("start_time")
	end = r.FormValue("end_time")

	file, header, ferr := r.FormFile("image")
	if ferr != nil {
		if errors.Is(ferr, http.ErrMissingFile) || !strings.HasPrefix(contentType, "multipart/form-data") {
			return location, start, end, nil, nil
		}
		return "", "", "", nil, fmt.Errorf("%w: bad image field", service.ErrValidation)
	}
	defer file.Close()

	data, rerr := io.ReadAll(io.LimitReader(file, models.MaxUploadBytes+1))
	if rerr != nil {
		return "", "", "", nil, fmt.Errorf("read upload: %w", rerr)
	}
	if int64(len(data)) > models.MaxUploadBytes {
		return "", "", "", nil, assets.ErrTooLarge
	}

	return location, start, end, &service.ImageUpload{Data: data, FileName: header.Filename}, nil
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func decodeJSONStrict(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
