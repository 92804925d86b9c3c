package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// decodeAndValidate reads a JSON body of at most limit bytes into dst and
// runs struct validation. On failure it writes a 400 and returns false.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil, nil)
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "Request body is empty", nil, nil)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), nil, nil)
		}
		return false
	}

	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err), nil, nil)
		return false
	}
	return true
}

// validationMessage renders validator errors as "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request: " + err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}
