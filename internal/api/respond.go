package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/middleware"
	"github.com/soaringjerry/Checkin/internal/services"
	"github.com/soaringjerry/Checkin/internal/utils"
)

// errorBody is the shape of every failed response. Message is localized;
// Detail carries the service's own explanation.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Field   string `json:"field,omitempty"`
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	if se, ok := services.AsServiceError(err); ok {
		return string(se.Code)
	}
	return ""
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	se, ok := services.AsServiceError(err)
	if !ok {
		log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal", utils.T(locale, "error.internal"), "", "")
		return
	}
	code := string(se.Code)
	writeError(w, r, statusFor(se.Code), code, utils.T(locale, "error."+code), se.Message, se.Field)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg, detail, field string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: code, Message: msg, Detail: detail, Field: field})
}

// decode reads a JSON body into v and runs its validate tags. Failures come
// back as invalid ServiceErrors naming the first offending field.
func (rt *Router) decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return services.NewInvalidError("malformed JSON body")
	}
	if err := rt.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			f := ve[0]
			return services.NewFieldError(f.Field(), fmt.Sprintf("failed %q check", f.Tag()))
		}
		return services.NewInvalidError(err.Error())
	}
	return nil
}

func created(w http.ResponseWriter, r *http.Request, v any) {
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, v)
}
