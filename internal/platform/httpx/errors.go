package httpx

import (
	"errors"
	"net/http"
)

// Mapping links a sentinel error to an HTTP status and machine-readable code.
type Mapping struct {
	Err    error
	Status int
	Code   string
}

// RespondError writes the first matching mapping for err, or a 500 problem
// when nothing matches. Domain packages own their sentinels; handlers own
// the mapping tables.
func RespondError(w http.ResponseWriter, err error, mappings []Mapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			ProblemCode(w, m.Status, m.Code, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
