package preferences

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"go-chi-calculator/internal/handlers"
	"go-chi-calculator/internal/observability"
	"go-chi-calculator/internal/storage"
	"go-chi-calculator/internal/testutil"
)

func TestMain(m *testing.M) {
	if err := InitMetrics(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// brokenStore fails every operation.
type brokenStore struct{ err error }

func (s brokenStore) Get(context.Context, string) (string, error) { return "", s.err }
func (s brokenStore) Set(context.Context, string, string) error   { return s.err }
func (s brokenStore) Remove(context.Context, string) error        { return s.err }
func (s brokenStore) Close() error                                { return nil }

func TestThemesDefaultAndOverride(t *testing.T) {
	ctx := context.Background()
	themes := NewThemes(storage.NewMemory(), ThemeDark)

	got, err := themes.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, got)

	require.NoError(t, themes.SetTheme(ctx, ThemeLight))
	got, err = themes.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, got)

	assert.ErrorIs(t, themes.SetTheme(ctx, "sepia"), ErrInvalidTheme)

	require.NoError(t, themes.Reset(ctx))
	got, err = themes.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, got)
}

func TestNewThemesFallsBackToLight(t *testing.T) {
	themes := NewThemes(storage.NewMemory(), "")

	got, err := themes.Theme(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, got)
}

func TestThemeEndpoints(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, NewThemes(storage.NewMemory(), ThemeLight))

	w := testutil.ExecuteRequest(httptest.NewRequest(http.MethodGet, "/preferences/theme", nil), r)
	testutil.CheckResponseCode(t, http.StatusOK, w.Code)
	var resp ThemeResponse
	testutil.DecodeJSONBody(t, w.Body, &resp)
	assert.Equal(t, ThemeLight, resp.Theme)

	put := httptest.NewRequest(http.MethodPut, "/preferences/theme", strings.NewReader(`{"theme":"dark"}`))
	w = testutil.ExecuteRequest(put, r)
	testutil.CheckResponseCode(t, http.StatusOK, w.Code)

	w = testutil.ExecuteRequest(httptest.NewRequest(http.MethodGet, "/preferences/theme", nil), r)
	testutil.DecodeJSONBody(t, w.Body, &resp)
	assert.Equal(t, ThemeDark, resp.Theme)

	bad := httptest.NewRequest(http.MethodPut, "/preferences/theme", strings.NewReader(`{"theme":"neon"}`))
	w = testutil.ExecuteRequest(bad, r)
	testutil.CheckResponseCode(t, http.StatusBadRequest, w.Code)

	w = testutil.ExecuteRequest(httptest.NewRequest(http.MethodDelete, "/preferences/theme", nil), r)
	testutil.CheckResponseCode(t, http.StatusOK, w.Code)
	testutil.DecodeJSONBody(t, w.Body, &resp)
	assert.Equal(t, ThemeLight, resp.Theme)
}

func TestThemeEndpointsRecordStoreFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	prev := observability.Logger
	observability.Logger = zap.New(core)
	t.Cleanup(func() { observability.Logger = prev })

	r := chi.NewRouter()
	RegisterRoutes(r, NewThemes(brokenStore{err: errors.New("database is locked")}, ThemeLight))

	tests := []struct {
		method  string
		body    string
		wantOp  string
		wantMsg string
	}{
		{method: http.MethodGet, wantOp: "theme.get", wantMsg: "could not load theme"},
		{method: http.MethodPut, body: `{"theme":"dark"}`, wantOp: "theme.set", wantMsg: "could not save theme"},
		{method: http.MethodDelete, wantOp: "theme.reset", wantMsg: "could not reset theme"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/preferences/theme", strings.NewReader(tt.body))
			w := testutil.ExecuteRequest(req, r)
			testutil.CheckResponseCode(t, http.StatusInternalServerError, w.Code)

			var resp handlers.ErrorResponse
			testutil.DecodeJSONBody(t, w.Body, &resp)
			assert.Equal(t, tt.wantMsg, resp.Error)

			entries := logs.FilterField(zap.String("operation", tt.wantOp)).All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantMsg, entries[0].Message)
		})
	}
}
