package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// statusClientClosedRequest is logged when the caller went away; nobody reads
// the response.
const statusClientClosedRequest = 499

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error onto the error envelope. Internal details
// of upstream failures stay in the logs.
func writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)

	var meta map[string]any
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		msg = verr.Error()
		meta = map[string]any{"field": verr.Field, "reason": verr.Reason}
	case status == http.StatusNotFound:
		msg = domain.ReasonNotFound
	case status == http.StatusConflict:
		meta = map[string]any{"reason": err.Error()}
	}

	httputil.Error(ctx, w, status, msg, meta)
}

// writeInvalid reports a malformed request body.
func writeInvalid(ctx context.Context, w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := lowerFirst(fe.Field())
		reason := ruleReason(fe)
		httputil.Error(ctx, w, http.StatusBadRequest, field+": "+reason,
			map[string]any{"field": field, "reason": reason})
		return
	}
	httputil.Error(ctx, w, http.StatusBadRequest, "invalid JSON", nil)
}

func ruleReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be >= " + fe.Param()
	case "max":
		return "must be <= " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
