package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/lightupdev/lightup/internal/apperr"
)

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// jsonCreated writes a JSON response with a 201 status.
func (s *Server) jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(data)
}

// respondError converts an error into the {error, status} body. Untyped
// errors become 500s and are logged; typed errors pass through verbatim.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	if ae == nil {
		s.logger.Error("request failed", "error", err)
		ae = apperr.Internal("internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	json.NewEncoder(w).Encode(ae)
}

func errUnauthorized() error {
	return apperr.ErrUnauthorized()
}

// decodeJSON parses a request body, mapping malformed input to a 400.
// An empty body leaves dst at its zero value.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.ErrInvalidInput("invalid JSON body: " + err.Error())
	}
	return nil
}
