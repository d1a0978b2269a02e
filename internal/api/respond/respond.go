// Package respond writes the JSON envelopes shared by the API handlers and
// parses the query parameters they have in common.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Response is the standard API response wrapper.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Data: data}); err != nil {
		slog.Default().Warn("json encode failed", "error", err)
	}
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if err := json.NewEncoder(w).Encode(Response{Error: e}); err != nil {
		slog.Default().Warn("json encode failed", "error", err)
	}
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Fail maps err to an API error and writes it. Server-side failures are
// logged; the client gets the classified message only.
func Fail(w http.ResponseWriter, logger *slog.Logger, err error) {
	e := FromError(err)
	if e.Status >= http.StatusInternalServerError {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", "status", e.Status, "error", err)
	}
	JSONError(w, e)
}

// Decode reads a JSON request body into v. Unknown fields are rejected.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewBadRequest("request body is required")
		}
		return NewBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// DecodeOptional is Decode that accepts an empty body.
func DecodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	err := Decode(w, r, v)
	var e *Error
	if errors.As(err, &e) && e.Message == "request body is required" {
		return nil
	}
	return err
}

// Page wraps a list with pagination info.
type Page struct {
	Items   any   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Pagination reads limit and offset. Limit defaults to 50 and is capped at 1000.
func Pagination(r *http.Request) (limit, offset int, err error) {
	limit, err = intParam(r, "limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err = intParam(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		return 0, 0, NewBadRequest("offset must not be negative")
	}
	return limit, offset, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewBadRequest(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

// TimeRange reads start and end (RFC 3339) or a period such as "24h" ending
// now. With neither, the range is the def period ending now.
func TimeRange(r *http.Request, now time.Time, def time.Duration) (models.TimeRange, error) {
	q := r.URL.Query()
	if p := q.Get("period"); p != "" {
		d, err := time.ParseDuration(p)
		if err != nil || d <= 0 {
			return models.TimeRange{}, NewBadRequest("period must be a positive duration")
		}
		return models.LastRange(now, d), nil
	}

	tr := models.LastRange(now, def)
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return models.TimeRange{}, NewBadRequest("start must be an RFC 3339 timestamp")
		}
		tr.Start = t
	}
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return models.TimeRange{}, NewBadRequest("end must be an RFC 3339 timestamp")
		}
		tr.End = t
	}
	if !tr.End.After(tr.Start) {
		return models.TimeRange{}, NewBadRequest("end must be after start")
	}
	return tr, nil
}

// List splits a comma-separated query parameter, dropping empty items.
func List(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
