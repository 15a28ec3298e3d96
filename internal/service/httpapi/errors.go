package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Kind    domain.ErrorKind `json:"kind"`
	Code    string           `json:"code"`
	Message string           `json:"message"`
}

// StatusForError переводит категорию ошибки ядра в HTTP-статус.
func StatusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInsufficientResource:
		return http.StatusUnprocessableEntity
	case domain.KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	message := err.Error()
	if kind == domain.KindInternal {
		// Детали внутренних ошибок остаются в логах.
		message = "internal error"
	}
	writeJSON(w, StatusForError(err), errorBody{Error: errorPayload{
		Kind:    kind,
		Code:    domain.CodeOf(err),
		Message: message,
	}})
}
