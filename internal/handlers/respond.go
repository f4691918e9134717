package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps err to its status code. Internal errors are logged and
// answered with a generic message.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "error", err)
		writeMessage(w, status, "internal error")
		return
	}
	writeMessage(w, status, err.Error())
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("request body too large")
		}
		return nil, apperr.Validation("cannot read request body: %v", err)
	}
	return body, nil
}

// decodeValid reads the body, checks it against schema and decodes it into v.
func decodeValid(w http.ResponseWriter, r *http.Request, schema gojsonschema.JSONLoader, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := validateJSONSchema(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func validateJSONSchema(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.Validation("request does not conform to schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func requireVar(vars map[string]string, name string) (string, error) {
	v := strings.TrimSpace(vars[name])
	if v == "" {
		return "", apperr.Validation("%s is required", name)
	}
	return v, nil
}
