// Package httperr normalizes the heterogeneous error shapes an operation can
// produce (transport responses, decoded error bodies, arbitrary values) into
// a single structured form: an ErrorResponse carrying per-field error lists.
package httperr

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/opstream/opstream/internal/transport"
)

// WildcardField keys errors that are not tied to a specific field.
const WildcardField = "*"

// FieldError is a single structured error message, optionally carrying a
// machine-readable code.
type FieldError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Empty reports whether the error carries neither a code nor a message.
func (fe FieldError) Empty() bool {
	return fe.Code == "" && fe.Message == ""
}

// FieldErrors maps field names to their errors. Non-field errors live under
// WildcardField.
type FieldErrors map[string][]FieldError

// ErrorResponse is the canonical error form. Response is the transport
// response that produced the error, when there was one.
type ErrorResponse struct {
	Response    *transport.Response
	FieldErrors FieldErrors
}

// Error summarizes the response for the error interface.
func (e *ErrorResponse) Error() string {
	var parts []string
	for field, errs := range e.FieldErrors {
		for _, fe := range errs {
			if field == WildcardField {
				parts = append(parts, fe.Message)
			} else {
				parts = append(parts, field+": "+fe.Message)
			}
		}
	}
	if len(parts) == 0 {
		return "request failed"
	}
	return strings.Join(parts, "; ")
}

// ToErrorResponse converts any error value into the canonical form. It never
// fails: a panic during conversion is logged and degrades to an empty default
// response. Already-normalized input passes through unchanged, so the
// function is idempotent.
func ToErrorResponse(v any) (er *ErrorResponse) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("error normalization failed", slog.Any("cause", r))
			er = &ErrorResponse{FieldErrors: FieldErrors{}}
		}
	}()

	switch t := v.(type) {
	case nil:
		return fromResponse(&transport.Response{Status: 500, StatusText: "Unknown error"})
	case *ErrorResponse:
		return t
	case ErrorResponse:
		return &t
	case *transport.Response:
		return fromResponse(t)
	}

	if fe := ToFieldErrors(v); len(fe) > 0 {
		return &ErrorResponse{FieldErrors: fe}
	}

	text := stringify(v)
	if text == "" {
		text = "Unknown error"
	}
	return fromResponse(&transport.Response{Status: 500, StatusText: text})
}

// fromResponse builds an ErrorResponse from a transport response. The body is
// consulted for field errors only when the content type is exactly
// application/json; body parse failures are swallowed. When the body yields
// nothing a single wildcard error is synthesized from the status line.
func fromResponse(r *transport.Response) *ErrorResponse {
	var body any
	if r.ContentType() == "application/json" {
		if decoded, err := r.JSON(); err == nil {
			body = decoded
		}
	}

	fe := ToFieldErrors(body)
	if len(fe) == 0 {
		message := fmt.Sprintf("ERROR %d", r.Status)
		if st := r.StatusText; st != "" && !strings.EqualFold(st, "ok") {
			message += ": " + st
		}
		fe = FieldErrors{WildcardField: {{
			Code:    fmt.Sprintf("HTTP%d", r.Status),
			Message: message,
		}}}
	}
	return &ErrorResponse{Response: r, FieldErrors: fe}
}

// ToFieldErrors extracts field errors from an arbitrary value. A nil result
// signals that no errors were found.
func ToFieldErrors(v any) FieldErrors {
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case FieldErrors:
		return t
	case map[string]any:
		return fromFieldMap(func(visit func(field string, raw any)) {
			for k, raw := range t {
				visit(k, raw)
			}
		})
	case []any:
		return wildcardList(coerceList(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return fromFieldMap(func(visit func(field string, raw any)) {
				iter := rv.MapRange()
				for iter.Next() {
					visit(iter.Key().String(), iter.Value().Interface())
				}
			})
		}
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return wildcardList(coerceList(items))
	}

	// Non-object scalar: the stringified value is a single wildcard message.
	// Errors, structs, and other opaque values yield nothing here; the caller
	// synthesizes a default response from their string form instead.
	switch rv.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		fe := ToFieldError(v)
		if fe.Empty() {
			return nil
		}
		return FieldErrors{WildcardField: {fe}}
	}
	return nil
}

func fromFieldMap(each func(visit func(field string, raw any))) FieldErrors {
	out := FieldErrors{}
	each(func(field string, raw any) {
		var errs []FieldError
		if list, ok := raw.([]any); ok {
			errs = coerceList(list)
		} else if raw != nil {
			if fe := ToFieldError(raw); !fe.Empty() {
				errs = []FieldError{fe}
			}
		}
		if len(errs) > 0 {
			out[field] = errs
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func wildcardList(errs []FieldError) FieldErrors {
	if len(errs) == 0 {
		return nil
	}
	return FieldErrors{WildcardField: errs}
}

func coerceList(items []any) []FieldError {
	var out []FieldError
	for _, item := range items {
		if fe := ToFieldError(item); !fe.Empty() {
			out = append(out, fe)
		}
	}
	return out
}

// ToFieldError coerces a single value into a FieldError. Values already in
// field-error shape pass through; objects with a message key have code and
// message coerced to strings; anything else is stringified wholesale.
func ToFieldError(v any) FieldError {
	switch t := v.(type) {
	case nil:
		return FieldError{}
	case FieldError:
		return t
	case *FieldError:
		if t == nil {
			return FieldError{}
		}
		return *t
	case map[string]any:
		if m, ok := t["message"]; ok && m != nil {
			fe := FieldError{Message: stringify(m)}
			if c, ok := t["code"]; ok && c != nil {
				fe.Code = stringify(c)
			}
			return fe
		}
		return FieldError{Message: stringify(t)}
	default:
		return FieldError{Message: stringify(v)}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
