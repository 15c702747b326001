package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"notice-engine/internal/notice"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, notice.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, notice.ErrBannerNotFound),
		errors.Is(err, notice.ErrCampaignNotFound),
		errors.Is(err, notice.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, notice.ErrNoProject),
		errors.Is(err, notice.ErrNoLanguage),
		errors.Is(err, notice.ErrInvalidDateRange),
		errors.Is(err, notice.ErrInvalidSetting),
		errors.Is(err, notice.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, notice.ErrCampaignExists),
		errors.Is(err, notice.ErrBannerAlreadyAssigned):
		return http.StatusConflict
	case errors.Is(err, notice.ErrCampaignLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// userFrom reads the acting user from X-User-ID. A missing or malformed
// header yields the anonymous user, whose changes are not logged.
func userFrom(r *http.Request) notice.User {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("X-User-ID")), 10, 64)
	if err != nil {
		return notice.User{}
	}
	return notice.User{ID: id, Name: r.Header.Get("X-User-Name")}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string        { return e.msg }
func (e *requestError) Is(target error) bool { return target == errBadRequest }
