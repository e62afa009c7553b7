package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetRequiredQueryParameters attempts to read the specified query parameters
// from the request and returns a map of the key value pairs. If any of the required
// query parameters are missing or blank, it'll write a 400 status code as well as
// the reasoning for the error into the ResponseWriter, and also set return false.
func GetRequiredQueryParameters(w http.ResponseWriter, r *http.Request, paramKeys ...string) (map[string]string, zerolog.Logger, bool) {
	params := make(map[string]string, len(paramKeys))
	logger := log.With()
	for _, key := range paramKeys {
		value := r.URL.Query().Get(key)
		if value == "" {
			http.Error(w, fmt.Sprintf("expected %s query parameter", key), http.StatusBadRequest)
			return nil, zerolog.Nop(), false
		}
		params[key] = value
		logger = logger.Str(key, value)
	}
	return params, logger.Logger(), true
}

// GetPositiveIntQueryParameter returns the value of the query parameter key,
// or def when it's absent. Values that aren't positive integers get a 400
// status code written and false returned.
func GetPositiveIntQueryParameter(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		http.Error(w, fmt.Sprintf("%s should be a positive integer", key), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}
