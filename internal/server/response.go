package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Envelope is the body of every API response.
type Envelope struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Reason  lifecycle.Reason `json:"reason,omitempty"`
	Data    any              `json:"data,omitempty"`
}

// DuplicateCodes is the data of a duplicate_code failure.
type DuplicateCodes struct {
	Codes []string `json:"codes"`
}

func statusFor(reason lifecycle.Reason) int {
	switch reason {
	case lifecycle.ReasonInvalidArgument:
		return http.StatusBadRequest
	case lifecycle.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case lifecycle.ReasonForbidden:
		return http.StatusForbidden
	case lifecycle.ReasonNotFound:
		return http.StatusNotFound
	case lifecycle.ReasonInvalidTransition, lifecycle.ReasonConflict, lifecycle.ReasonDuplicateCode:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeOutcome renders out with successStatus, or the failure mapped to its
// HTTP status.
func writeOutcome[T any](w http.ResponseWriter, r *http.Request, successStatus int, message string, out lifecycle.Outcome[T]) {
	if f := out.Failure(); f != nil {
		writeFailure(w, r, f)
		return
	}
	writeJSON(w, r, successStatus, Envelope{Success: true, Message: message, Data: out.Value()})
}

func writeFailure(w http.ResponseWriter, r *http.Request, f *lifecycle.Failure) {
	env := Envelope{Message: f.Message, Reason: f.Reason}
	if len(f.Codes) > 0 {
		env.Data = DuplicateCodes{Codes: f.Codes}
	}
	writeJSON(w, r, statusFor(f.Reason), env)
}

func writeError(w http.ResponseWriter, r *http.Request, reason lifecycle.Reason, message string) {
	writeFailure(w, r, &lifecycle.Failure{Reason: reason, Message: message})
}

// writeJSON encodes env. Successful GET responses get a strong ETag over the
// encoded body and honour If-None-Match.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(env); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")

	if r.Method == http.MethodGet && status == http.StatusOK {
		etag := bodyETag(buf.Bytes())
		h.Set("ETag", etag)
		h.Set("Cache-Control", "private, no-cache")
		h.Add("Vary", "Authorization")
		if matchesETag(r.Header.Get("If-None-Match"), etag) {
			h.Del("Content-Type")
			w.WriteHeader(http.StatusNotModified)
			return
		}
	} else {
		h.Set("Cache-Control", "no-store")
	}

	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func bodyETag(body []byte) string {
	h := crc64nvme.New()
	_, _ = h.Write(body)
	return fmt.Sprintf(`"%016x"`, h.Sum64())
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for candidate := range strings.SplitSeq(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
