package classify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pkgerrors "github.com/pkg/errors"

	"resilience/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// tokenErrors identify a malformed, tampered or expired bearer token.
var tokenErrors = []error{
	jwt.ErrTokenExpired,
	jwt.ErrTokenMalformed,
	jwt.ErrTokenSignatureInvalid,
	jwt.ErrTokenUnverifiable,
	domain.ErrTokenExpired,
	domain.ErrInvalidToken,
}

type (
	statusCoder interface{ StatusCode() int }
	httpCoder   interface{ HTTPCode() int }
	operational interface{ Operational() bool }
	sqlStater   interface{ SQLState() string }
	rawStacker  interface{ RawStack() string }
	stackTracer interface{ StackTrace() pkgerrors.StackTrace }
)

// Inspect assigns err exactly one kind. It is the only place where the shape
// of an error raised outside the boundary is examined. When several rules
// could match, conflict wins over auth token, which wins over validation.
func Inspect(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindProgrammer
	}
	switch {
	case isUniqueViolation(err):
		return domain.KindConflict
	case isTokenError(err):
		return domain.KindAuthToken
	case len(fieldErrors(err)) > 0:
		return domain.KindValidation
	}
	if isOperational(err) {
		if statusOf(err) == http.StatusNotFound {
			return domain.KindNotFound
		}
		return domain.KindOperational
	}
	return domain.KindProgrammer
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var st sqlStater
	return errors.As(err, &st) && st.SQLState() == uniqueViolation
}

func isTokenError(err error) bool {
	for _, target := range tokenErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isOperational(err error) bool {
	var op operational
	return errors.As(err, &op) && op.Operational()
}

// statusOf returns the status declared by the first error in the chain that
// carries one, or 500. Declared values outside 4xx/5xx are ignored.
func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) && isErrorStatus(sc.StatusCode()) {
		return sc.StatusCode()
	}
	var hc httpCoder
	if errors.As(err, &hc) && isErrorStatus(hc.HTTPCode()) {
		return hc.HTTPCode()
	}
	return http.StatusInternalServerError
}

func isErrorStatus(code int) bool {
	return code >= 400 && code <= 599
}

// fieldErrors converts a validation sequence to client form, preserving order.
func fieldErrors(err error) []domain.FieldError {
	var ve domain.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		out := make([]domain.FieldError, len(ve))
		for i, e := range ve {
			out[i] = domain.FieldError{Field: e.Param, Message: e.Msg}
		}
		return out
	}

	var vv validator.ValidationErrors
	if errors.As(err, &vv) && len(vv) > 0 {
		out := make([]domain.FieldError, len(vv))
		for i, fe := range vv {
			out[i] = domain.FieldError{Field: fe.Field(), Message: validatorMessage(fe)}
		}
		return out
	}
	return nil
}

func validatorMessage(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return "is required"
	}
	if p := fe.Param(); p != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), p)
	}
	return "failed " + fe.Tag()
}

// messageOf is the client-facing message. An operational AppError without a
// message of its own shows its status text rather than its cause's text.
func messageOf(err error) string {
	var ae *domain.AppError
	if errors.As(err, &ae) && ae.Operational() && ae.Message() == "" {
		if text := http.StatusText(ae.StatusCode()); text != "" {
			return text
		}
		return domain.MsgServerError
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return domain.MsgServerError
}

// detailOf is the message recorded to the sink. It appends a wrapped cause
// that the error's own message does not already mention.
func detailOf(err error) string {
	msg := err.Error()
	if cause := errors.Unwrap(err); cause != nil {
		if cm := cause.Error(); cm != "" && !strings.Contains(msg, cm) {
			return msg + ": " + cm
		}
	}
	return msg
}

// stackOf renders the most precise stack the error carries.
func stackOf(err error) string {
	var rs rawStacker
	if errors.As(err, &rs) {
		return err.Error() + "\n" + rs.RawStack()
	}
	var st stackTracer
	if errors.As(err, &st) && len(st.StackTrace()) > 0 {
		return fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
	}
	return fmt.Sprintf("%+v", err)
}
