package classify_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resilience/internal/domain"
	gw "resilience/internal/gateway"
	"resilience/internal/gateway/classify"
)

type recordingSink struct {
	mu      sync.Mutex
	records []gw.LogRecord
}

func (s *recordingSink) Record(_ context.Context, rec gw.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) all() []gw.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gw.LogRecord(nil), s.records...)
}

type panickingSink struct{}

func (panickingSink) Record(context.Context, gw.LogRecord) { panic("disk full") }

var bothModes = []domain.DisclosureMode{domain.DisclosureDevelopment, domain.DisclosureProduction}

func req() classify.RequestInfo {
	return classify.RequestInfo{Path: "/v1/widgets", Method: http.MethodPost}
}

func TestOperationalMessagePreservedInEveryMode(t *testing.T) {
	t.Parallel()

	for _, mode := range bothModes {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()
			c := classify.New(&recordingSink{}, mode)

			got := c.Classify(context.Background(), domain.NewAppError("widget is locked", http.StatusLocked), req())

			assert.Equal(t, http.StatusLocked, got.StatusCode)
			assert.Equal(t, "widget is locked", got.Message)
			assert.False(t, got.IncludeStack)
			assert.Empty(t, got.Response().Stack)
			assert.Equal(t, domain.KindOperational, got.Kind)
		})
	}
}

func TestProgrammerErrorMaskedInProduction(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureProduction)

	got := c.Classify(context.Background(), errors.New("nil map assignment in widget cache"), req())

	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Equal(t, domain.MsgServerError, got.Message)
	assert.False(t, got.IncludeStack)
	assert.Equal(t, domain.KindProgrammer, got.Kind)
}

func TestProgrammerErrorWithStatusMaskedInProduction(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureProduction)

	got := c.Classify(context.Background(), domain.NewProgrammerError("upstream schema drift", http.StatusBadGateway), req())

	assert.Equal(t, http.StatusBadGateway, got.StatusCode)
	assert.Equal(t, domain.MsgServerError, got.Message)
}

func TestProgrammerErrorDisclosedWithStackInDevelopment(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureDevelopment)

	got := c.Classify(context.Background(), domain.NewProgrammerError("index out of range", http.StatusInternalServerError), req())

	assert.Equal(t, "index out of range", got.Message)
	require.True(t, got.IncludeStack)
	assert.Contains(t, got.Response().Stack, "index out of range")
	assert.Contains(t, got.Response().Stack, "classifier_test.go")
}

func TestPlainErrorGetsStackInDevelopment(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureDevelopment)

	got := c.Classify(context.Background(), errors.New("boom"), req())

	assert.True(t, got.IncludeStack)
	assert.NotEmpty(t, got.Response().Stack)
}

func TestValidationSequencePreservesOrder(t *testing.T) {
	t.Parallel()

	seq := domain.ValidationErrors{
		{Param: "email", Msg: "invalid"},
		{Param: "name", Msg: "required"},
		{Param: "age", Msg: "must be a number"},
	}

	for _, mode := range bothModes {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()
			c := classify.New(&recordingSink{}, mode)

			got := c.Classify(context.Background(), seq, req())

			assert.Equal(t, http.StatusBadRequest, got.StatusCode)
			fields, ok := got.Message.([]domain.FieldError)
			require.True(t, ok, "message should be a field list, got %T", got.Message)
			require.Len(t, fields, len(seq))
			for i, e := range seq {
				assert.Equal(t, domain.FieldError{Field: e.Param, Message: e.Msg}, fields[i])
			}
		})
	}
}

func TestValidatorErrorsBecomeFieldErrors(t *testing.T) {
	t.Parallel()

	type signup struct {
		Email string `validate:"required,email"`
		Age   int    `validate:"gte=18"`
		Name  string `validate:"required"`
	}
	verr := validator.New().Struct(signup{Email: "nope", Age: 3})
	require.Error(t, verr)

	c := classify.New(&recordingSink{}, domain.DisclosureProduction)
	got := c.Classify(context.Background(), fmt.Errorf("decoding signup: %w", verr), req())

	assert.Equal(t, http.StatusBadRequest, got.StatusCode)
	assert.Equal(t, []domain.FieldError{
		{Field: "Email", Message: "failed email"},
		{Field: "Age", Message: "failed gte=18"},
		{Field: "Name", Message: "is required"},
	}, got.Message)
}

func TestEmptyValidationSequenceIsNotValidation(t *testing.T) {
	t.Parallel()
	assert.Equal(t, domain.KindProgrammer, classify.Inspect(domain.ValidationErrors{}))
}

func TestTokenErrorOverridesDeclaredStatus(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureDevelopment)

	err := domain.WrapAppError(jwt.ErrTokenExpired, "jwt expired", http.StatusInternalServerError)
	got := c.Classify(context.Background(), err, req())

	assert.Equal(t, http.StatusUnauthorized, got.StatusCode)
	assert.Equal(t, domain.MsgInvalidToken, got.Message)
}

func TestRealParseFailuresAreTokenErrors(t *testing.T) {
	t.Parallel()

	secret := []byte("test-secret")
	keyFn := func(*jwt.Token) (any, error) { return secret, nil }

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	_, expiredErr := jwt.Parse(expired, keyFn)
	_, malformedErr := jwt.Parse("not-a-jwt", keyFn)

	for name, perr := range map[string]error{"expired": expiredErr, "malformed": malformedErr} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, perr)
			c := classify.New(&recordingSink{}, domain.DisclosureProduction)
			got := c.Classify(context.Background(), perr, req())
			assert.Equal(t, http.StatusUnauthorized, got.StatusCode)
			assert.Equal(t, domain.MsgInvalidToken, got.Message)
		})
	}
}

func TestUniqueViolationInDevelopment(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureDevelopment)

	got := c.Classify(context.Background(), &pgconn.PgError{Code: "23505", Message: "dup key"}, req())

	assert.Equal(t, http.StatusConflict, got.StatusCode)
	assert.Equal(t, domain.MsgRecordExists, got.Message)
	assert.True(t, got.IncludeStack)
	assert.NotEmpty(t, got.Response().Stack)
}

type sqlStateErr struct{ state string }

func (e sqlStateErr) Error() string    { return "sql error " + e.state }
func (e sqlStateErr) SQLState() string { return e.state }

func TestUniqueViolationFromAnyDriver(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureProduction)

	got := c.Classify(context.Background(), fmt.Errorf("insert widget: %w", sqlStateErr{state: "23505"}), req())
	assert.Equal(t, http.StatusConflict, got.StatusCode)
	assert.Equal(t, domain.MsgRecordExists, got.Message)

	other := c.Classify(context.Background(), sqlStateErr{state: "40001"}, req())
	assert.Equal(t, http.StatusInternalServerError, other.StatusCode)
	assert.Equal(t, domain.MsgServerError, other.Message)
}

func TestDisclosureSafeKindsNotMaskedInProduction(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureProduction)

	tests := []struct {
		name    string
		err     error
		status  int
		message any
	}{
		{"conflict", &pgconn.PgError{Code: "23505"}, http.StatusConflict, domain.MsgRecordExists},
		{"token", domain.ErrTokenExpired, http.StatusUnauthorized, domain.MsgInvalidToken},
		{"validation", domain.ValidationErrors{{Param: "email", Msg: "invalid"}}, http.StatusBadRequest,
			[]domain.FieldError{{Field: "email", Message: "invalid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.err, req())
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.message, got.Message)
			assert.False(t, got.IncludeStack)
		})
	}
}

func TestProductionNeverIncludesStack(t *testing.T) {
	t.Parallel()
	c := classify.New(&recordingSink{}, domain.DisclosureProduction)

	errs := []error{
		errors.New("boom"),
		domain.NewProgrammerError("bad", http.StatusInternalServerError),
		domain.NewPanicError("nil pointer", []byte("goroutine 1 [running]:")),
		&pgconn.PgError{Code: "23505"},
	}
	for _, err := range errs {
		got := c.Classify(context.Background(), err, req())
		assert.False(t, got.IncludeStack, "error %v", err)
		assert.Empty(t, got.Response().Stack)
	}
}

func TestClassifyWritesOneUnmaskedRecord(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	c := classify.New(sink, domain.DisclosureProduction)

	info := classify.RequestInfo{Path: "/v1/widgets/9", Method: http.MethodDelete, RequestID: "req-1"}
	c.Classify(context.Background(), errors.New("connection reset by peer"), info)

	records := sink.all()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "connection reset by peer", rec.Message)
	assert.Equal(t, "/v1/widgets/9", rec.Path)
	assert.Equal(t, http.MethodDelete, rec.Method)
	assert.Equal(t, http.StatusInternalServerError, rec.StatusCode)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, domain.KindProgrammer, rec.Kind)
	assert.NotEmpty(t, rec.Stack)
}

func TestRecordCarriesOverriddenStatus(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	c := classify.New(sink, domain.DisclosureDevelopment)

	c.Classify(context.Background(), &pgconn.PgError{Code: "23505", Message: "dup key"}, req())

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusConflict, records[0].StatusCode)
}

func TestSinkPanicDoesNotReachCaller(t *testing.T) {
	t.Parallel()
	c := classify.New(panickingSink{}, domain.DisclosureProduction)

	var got domain.Classification
	assert.NotPanics(t, func() {
		got = c.Classify(context.Background(), errors.New("boom"), req())
	})
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
}

func TestNilErrorIsGenericServerError(t *testing.T) {
	t.Parallel()
	c := classify.New(nil, domain.DisclosureDevelopment)

	got := c.Classify(context.Background(), nil, req())
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Equal(t, domain.MsgServerError, got.Message)
}

func TestWriteEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      domain.DisclosureMode
		err       error
		wantCode  int
		wantStack bool
	}{
		{"production programmer", domain.DisclosureProduction, errors.New("boom"), http.StatusInternalServerError, false},
		{"development programmer", domain.DisclosureDevelopment, errors.New("boom"), http.StatusInternalServerError, true},
		{"development operational", domain.DisclosureDevelopment, domain.NewAppError("gone", http.StatusGone), http.StatusGone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := classify.New(&recordingSink{}, tt.mode)

			rec := httptest.NewRecorder()
			c.Write(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
			_, hasStack := body["stack"]
			assert.Equal(t, tt.wantStack, hasStack)
		})
	}
}

func TestNotFoundTranslator(t *testing.T) {
	t.Parallel()

	for _, mode := range bothModes {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()
			sink := &recordingSink{}
			h := classify.NotFound(classify.New(sink, mode))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widgets/9", nil))

			assert.Equal(t, http.StatusNotFound, rec.Code)
			var body domain.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, domain.ErrorResponse{Status: "error", Message: "Not found - /widgets/9"}, body)

			records := sink.all()
			require.Len(t, records, 1)
			assert.Equal(t, domain.KindNotFound, records[0].Kind)
		})
	}
}

func TestNotFoundKeepsQueryString(t *testing.T) {
	t.Parallel()
	h := classify.NotFound(classify.New(nil, domain.DisclosureProduction))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widgets?page=2", nil))

	var body domain.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Not found - /widgets?page=2", body.Message)
}

func TestRecordKeepsWrappedCause(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	c := classify.New(sink, domain.DisclosureProduction)

	err := domain.WrapAppError(errors.New("dial tcp 10.0.0.9:80: connection refused"), "Upstream service unavailable", http.StatusBadGateway)
	got := c.Classify(context.Background(), err, req())

	assert.Equal(t, "Upstream service unavailable", got.Message)
	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "Upstream service unavailable: dial tcp 10.0.0.9:80: connection refused", records[0].Message)
}

func TestPanickedAppErrorIsMaskedInProduction(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	c := classify.New(sink, domain.DisclosureProduction)

	err := domain.NewPanicError(domain.NewAppError("order 42 belongs to tenant acme", http.StatusTeapot), []byte("goroutine 3 [running]:"))
	got := c.Classify(context.Background(), err, req())

	assert.Equal(t, domain.KindProgrammer, got.Kind)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Equal(t, domain.MsgServerError, got.Message)
	assert.False(t, got.IncludeStack)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "order 42 belongs to tenant acme")
}

func TestWrappedAppErrorWithoutMessageShowsStatusText(t *testing.T) {
	t.Parallel()
	cause := domain.NewProgrammerError("orders pool: password=hunter2 rejected", http.StatusInternalServerError)

	for _, mode := range []domain.DisclosureMode{domain.DisclosureProduction, domain.DisclosureDevelopment} {
		sink := &recordingSink{}
		c := classify.New(sink, mode)

		got := c.Classify(context.Background(), domain.WrapAppError(cause, "", http.StatusBadRequest), req())

		assert.Equal(t, http.StatusBadRequest, got.StatusCode, mode.String())
		assert.Equal(t, http.StatusText(http.StatusBadRequest), got.Message, mode.String())
		require.Len(t, sink.all(), 1)
		assert.Contains(t, sink.all()[0].Message, "password=hunter2", "the sink keeps the detail")
	}
}
