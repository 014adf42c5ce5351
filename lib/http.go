package lib

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// apiError is the JSON error shape of the request/response surface:
// {"error": "<kind>"}, with the kind in lower snake case.
type apiError struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("can't write response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, kind string) {
	respondJSON(w, status, apiError{Error: kind})
}

// Error kinds on the HTTP surface.
const (
	errDIDRequired            = "did_required"
	errInvalidPayload         = "invalid_payload"
	errInvalidChallenge       = "invalid_challenge"
	errEntityNotFound         = "entity_not_found"
	errPublicKeyMismatch      = "public_key_mismatch"
	errInvalidSignatureFormat = "invalid_signature_format"
	errInvalidPublicKeyFormat = "invalid_public_key_format"
	errInvalidSignature       = "invalid_signature"
	errInternal               = "internal_error"
)
