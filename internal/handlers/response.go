package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"erp_wa/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// writeError maps a service error to its HTTP status. Unclassified errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeFailure(w, status, "internal server error")
		return
	}
	writeFailure(w, status, err.Error())
}

func statusFor(err error) int {
	var sendErr *services.SendError
	switch {
	case errors.Is(err, services.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNumberNotReachable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrCodeExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrCodeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoPendingVerification), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotVerified):
		return http.StatusConflict
	case errors.As(err, &sendErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into dst and runs its validation tags.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationMessage(verrs)
		}
		return err
	}
	return nil
}

func validationMessage(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
