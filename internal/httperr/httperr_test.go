package httperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opstream/opstream/internal/transport"
)

func TestToErrorResponse_Idempotent(t *testing.T) {
	inputs := []any{
		nil,
		"boom",
		errors.New("boom"),
		&transport.Response{Status: 404, StatusText: "Not Found"},
		map[string]any{"email": "required"},
	}
	for _, in := range inputs {
		once := ToErrorResponse(in)
		twice := ToErrorResponse(once)
		assert.Same(t, once, twice, "normalizing twice must be a no-op for %v", in)
	}
}

func TestToErrorResponse_DefaultFromStatus(t *testing.T) {
	er := ToErrorResponse(&transport.Response{Status: 404, StatusText: "Not Found"})

	require.Len(t, er.FieldErrors, 1)
	errs := er.FieldErrors[WildcardField]
	require.Len(t, errs, 1)
	assert.Equal(t, "HTTP404", errs[0].Code)
	assert.Equal(t, "ERROR 404: Not Found", errs[0].Message)
	assert.NotNil(t, er.Response)
}

func TestToErrorResponse_StatusTextOmittedWhenOK(t *testing.T) {
	er := ToErrorResponse(&transport.Response{Status: 502, StatusText: "OK"})
	assert.Equal(t, "ERROR 502", er.FieldErrors[WildcardField][0].Message)

	er = ToErrorResponse(&transport.Response{Status: 502})
	assert.Equal(t, "ERROR 502", er.FieldErrors[WildcardField][0].Message)
}

func TestToErrorResponse_JSONBodyFieldErrors(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	er := ToErrorResponse(&transport.Response{
		Status: 422,
		Header: header,
		Body:   []byte(`{"email": "required", "name": ["too short", "reserved"]}`),
	})

	require.Len(t, er.FieldErrors, 2)
	assert.Equal(t, []FieldError{{Message: "required"}}, er.FieldErrors["email"])
	assert.Equal(t, []FieldError{{Message: "too short"}, {Message: "reserved"}}, er.FieldErrors["name"])
}

func TestToErrorResponse_BodyIgnoredWithoutJSONContentType(t *testing.T) {
	er := ToErrorResponse(&transport.Response{
		Status: 422,
		Body:   []byte(`{"email": "required"}`),
	})
	// No content type: body is not consulted, the default applies.
	assert.Equal(t, "HTTP422", er.FieldErrors[WildcardField][0].Code)
}

func TestToErrorResponse_MalformedJSONBodySwallowed(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	er := ToErrorResponse(&transport.Response{
		Status: 500,
		Header: header,
		Body:   []byte(`{not json`),
	})
	assert.Equal(t, "HTTP500", er.FieldErrors[WildcardField][0].Code)
}

func TestToErrorResponse_UnknownValueSynthesizes500(t *testing.T) {
	er := ToErrorResponse(errors.New("connection refused"))

	require.NotNil(t, er.Response)
	assert.Equal(t, 500, er.Response.Status)
	assert.Equal(t, "connection refused", er.Response.StatusText)
	assert.Equal(t, "ERROR 500: connection refused", er.FieldErrors[WildcardField][0].Message)
}

func TestToErrorResponse_FieldErrorMapWithoutResponse(t *testing.T) {
	er := ToErrorResponse(map[string]any{"email": "required"})

	assert.Nil(t, er.Response)
	assert.Equal(t, []FieldError{{Message: "required"}}, er.FieldErrors["email"])
}

func TestToFieldErrors(t *testing.T) {
	t.Run("nil yields nothing", func(t *testing.T) {
		assert.Nil(t, ToFieldErrors(nil))
	})

	t.Run("array wraps under wildcard", func(t *testing.T) {
		fe := ToFieldErrors([]any{"a", nil, "b"})
		assert.Equal(t, FieldErrors{WildcardField: {{Message: "a"}, {Message: "b"}}}, fe)
	})

	t.Run("scalar wraps stringified under wildcard", func(t *testing.T) {
		fe := ToFieldErrors(42)
		assert.Equal(t, FieldErrors{WildcardField: {{Message: "42"}}}, fe)
	})

	t.Run("map coerces each field", func(t *testing.T) {
		fe := ToFieldErrors(map[string]any{
			"a": "bad",
			"b": []any{map[string]any{"message": "worse", "code": "X1"}},
			"c": nil,
		})
		assert.Equal(t, FieldErrors{
			"a": {{Message: "bad"}},
			"b": {{Code: "X1", Message: "worse"}},
		}, fe)
	})

	t.Run("map of empty fields yields nothing", func(t *testing.T) {
		assert.Nil(t, ToFieldErrors(map[string]any{"a": nil, "b": []any{}}))
	})

	t.Run("typed string map", func(t *testing.T) {
		fe := ToFieldErrors(map[string]string{"email": "required"})
		assert.Equal(t, FieldErrors{"email": {{Message: "required"}}}, fe)
	})
}

func TestToFieldError(t *testing.T) {
	assert.Equal(t, FieldError{}, ToFieldError(nil))
	assert.Equal(t, FieldError{Code: "C", Message: "m"}, ToFieldError(FieldError{Code: "C", Message: "m"}))
	assert.Equal(t, FieldError{Message: "42"}, ToFieldError(42))
	assert.Equal(t, FieldError{Code: "7", Message: "m"},
		ToFieldError(map[string]any{"message": "m", "code": 7}))
	// An object without a usable message is stringified wholesale.
	got := ToFieldError(map[string]any{"detail": "x"})
	assert.NotEmpty(t, got.Message)
}

func TestErrorResponse_ErrorString(t *testing.T) {
	er := &ErrorResponse{FieldErrors: FieldErrors{
		"email": {{Message: "required"}},
	}}
	assert.Equal(t, "email: required", er.Error())

	assert.Equal(t, "request failed", (&ErrorResponse{}).Error())
}
