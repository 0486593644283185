package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/relayforge/agentctl/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes r.Body into out, wrapping a malformed body as a
// validation error so every handler funnels it through apierr.WriteError
// the same way.
func decodeJSON(r *http.Request, out any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apierr.WithDetails(apierr.KindValidation, "malformed request body", map[string]string{"error": err.Error()})
	}
	return nil
}
