package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since and until. Bad values fall back
// to the defaults instead of failing the request.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  min(intParam(q, "limit", defaultPageSize, 1), maxPageSize),
		Offset: intParam(q, "offset", 0, 0),
		Since:  timeParam(q, "since"),
		Until:  timeParam(q, "until"),
	}
	return opts
}

func intParam(q url.Values, name string, def, lowest int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n < lowest {
		return def
	}
	return n
}

func timeParam(q url.Values, name string) *time.Time {
	t, err := time.Parse(time.RFC3339, q.Get(name))
	if err != nil {
		return nil
	}
	return &t
}
