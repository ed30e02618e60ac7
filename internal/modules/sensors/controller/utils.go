package controller

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ocuzn/sensors-server/internal/modules/sensors/service"
	"github.com/ocuzn/sensors-server/internal/modules/sensors/types"
)

func parseWindowQuery(r *http.Request) (hours, limit int, err error) {
	hours, err = parseIntQuery(r, "hours", service.DefaultHours)
	if err != nil {
		return 0, 0, err
	}
	limit, err = parseIntQuery(r, "limit", service.DefaultLimit)
	if err != nil {
		return 0, 0, err
	}
	return hours, limit, nil
}

// parseIntQuery returns def when the parameter is absent. Range checks
// belong to the service.
func parseIntQuery(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &types.InvalidParameterError{Name: name, Value: s, Reason: "expected integer"}
	}
	return n, nil
}
