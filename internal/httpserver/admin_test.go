package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"commerce-provider/internal/domain"
)

type stubMigrations struct {
	runs    map[string]*domain.MigrationRun
	actions []string
}

func (s *stubMigrations) Start(_ context.Context, tenantID string) (*domain.MigrationRun, error) {
	if tenantID == "busy" {
		return nil, &domain.ProviderPermanentError{Op: "start migration", Code: "migration_active"}
	}
	run := &domain.MigrationRun{ID: "run-1", TenantID: tenantID, Phase: domain.PhaseProducts, State: domain.MigrationRunning, StartedAt: time.Now()}
	s.runs[run.ID] = run
	return run, nil
}

func (s *stubMigrations) Status(_ context.Context, runID string) (*domain.MigrationRun, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run, nil
}

func (s *stubMigrations) action(name string) func(context.Context, string) (*domain.MigrationRun, error) {
	return func(ctx context.Context, runID string) (*domain.MigrationRun, error) {
		s.actions = append(s.actions, name)
		return s.Status(ctx, runID)
	}
}

func (s *stubMigrations) Pause(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	return s.action("pause")(ctx, runID)
}

func (s *stubMigrations) Resume(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	return s.action("resume")(ctx, runID)
}

func (s *stubMigrations) Abort(ctx context.Context, runID string) (*domain.MigrationRun, error) {
	return s.action("abort")(ctx, runID)
}

func adminDeps(t *testing.T) (Deps, *stubMigrations) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	m := &stubMigrations{runs: map[string]*domain.MigrationRun{}}
	return Deps{Migrations: m, AdminKeyHash: string(hash), CORSOrigins: []string{"https://admin.example.com"}}, m
}

func TestAdmin_RequiresKey(t *testing.T) {
	deps, _ := adminDeps(t)
	router := newRouter(t, deps)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/admin/tenants/acme/migrations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/admin/tenants/acme/migrations", "",
		map[string]string{"X-Admin-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/admin/tenants/acme/migrations", "",
		map[string]string{"Authorization": "Bearer s3cret"}).Code)
}

func TestAdmin_MigrationLifecycle(t *testing.T) {
	deps, m := adminDeps(t)
	router := newRouter(t, deps)
	auth := map[string]string{"X-Admin-Key": "s3cret"}

	rec := serve(router, http.MethodPost, "/admin/tenants/acme/migrations", "", auth)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var view migrationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "run-1", view.ID)
	assert.Equal(t, domain.MigrationRunning, view.State)
	assert.Equal(t, 0, view.Percent)

	for _, action := range []string{"pause", "resume", "abort"} {
		rec = serve(router, http.MethodPost, "/admin/migrations/run-1/"+action, "", auth)
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
	assert.Equal(t, []string{"pause", "resume", "abort"}, m.actions)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/admin/migrations/run-1", "", auth).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/admin/migrations/missing", "", auth).Code)

	rec = serve(router, http.MethodPost, "/admin/tenants/busy/migrations", "", auth)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "migration_active")
}

func TestAdmin_CORSPreflight(t *testing.T) {
	deps, _ := adminDeps(t)
	rec := serve(newRouter(t, deps), http.MethodOptions, "/admin/migrations/run-1", "", map[string]string{
		"Origin":                        "https://admin.example.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdmin_NotMountedWithoutKey(t *testing.T) {
	router := newRouter(t, Deps{Migrations: &stubMigrations{}})
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/admin/migrations/run-1", "", nil).Code)
}
