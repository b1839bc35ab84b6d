package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/repositories"
	"github.com/giftcraft/experience/internal/services"
)

type failingSystemService struct{ err error }

func (s failingSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{}, s.err
}

type readyzBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status string `json:"status"`
		Detail string `json:"detail"`
	} `json:"checks"`
	Details []string `json:"details"`
}

// withReadiness mounts health handlers backed by the sessions check the
// container installs, plus an optional redis ping.
func withReadiness(t *testing.T, f *apiFixture, maxViewers int, redisPing func(context.Context) error) {
	t.Helper()
	checks := []repositories.DependencyCheck{{
		Name: "sessions",
		Check: func(context.Context) error {
			if f.viewers.Len() >= maxViewers {
				return errors.New("session store at capacity")
			}
			return nil
		},
	}}
	if redisPing != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "redis", Check: redisPing})
	}
	health, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyClock(f.manual.Now),
		repositories.WithEnvironment("staging", "0.9.0"),
	)
	if err != nil {
		t.Fatalf("health repository: %v", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            f.manual.Now,
		Templates:        catalog.MustDefault(),
	})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}
	f.router = NewRouter(
		WithHealthHandlers(NewHealthHandlers(
			WithHealthBuildInfo(services.BuildInfo{Version: "0.9.0", CommitSHA: "f00d", Environment: "staging", StartedAt: fixtureStart}),
			WithHealthClock(f.manual.Now),
			WithHealthSystemService(system),
		)),
		WithViewerRoutes(NewViewerSessionHandlers(ViewerSessionDeps{Engine: f.engine, Store: f.viewers}).Routes),
	)
}

func TestHealthz_ReportsBuildAndUptime(t *testing.T) {
	f := newAPIFixture(t)
	withReadiness(t, f, 10, nil)
	f.manual.Advance(90 * time.Second)

	rr := f.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[healthzResponse](t, rr)
	if body.Status != domain.HealthStatusOK || body.Version != "0.9.0" || body.CommitSHA != "f00d" {
		t.Fatalf("unexpected liveness body %+v", body)
	}
	if body.Uptime != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %s", body.Uptime)
	}
}

func TestReadyz_SessionsAndCatalogHealthy(t *testing.T) {
	f := newAPIFixture(t)
	withReadiness(t, f, 10, func(context.Context) error { return nil })

	rr := f.do(http.MethodGet, "/readyz", "", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[readyzBody](t, rr)
	if body.Status != domain.HealthStatusOK || len(body.Details) != 0 {
		t.Fatalf("expected ready, got %+v", body)
	}
	for _, name := range []string{"sessions", "catalog", "redis"} {
		if body.Checks[name].Status != domain.HealthStatusOK {
			t.Fatalf("check %s not ok: %+v", name, body.Checks)
		}
	}
	if !strings.HasSuffix(body.Checks["catalog"].Detail, "templates") {
		t.Fatalf("catalog check should count templates, got %q", body.Checks["catalog"].Detail)
	}
}

func TestReadyz_ViewerStoreAtCapacity(t *testing.T) {
	f := newAPIFixture(t)
	shareID := publishedBirthday(t, f)
	withReadiness(t, f, 1, nil)

	expectStatus(t, f.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)

	openViewer(t, f, shareID)

	rr := f.do(http.MethodGet, "/readyz", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decodeBody[readyzBody](t, rr)
	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "sessions: session store at capacity" {
		t.Fatalf("unexpected details %v", body.Details)
	}
	if body.Checks["catalog"].Status != domain.HealthStatusOK {
		t.Fatalf("catalog should stay healthy, got %+v", body.Checks["catalog"])
	}
}

func TestReadyz_RedisDown(t *testing.T) {
	f := newAPIFixture(t)
	withReadiness(t, f, 10, func(context.Context) error { return errors.New("dial tcp: connection refused") })

	rr := f.do(http.MethodGet, "/readyz", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decodeBody[readyzBody](t, rr)
	if body.Checks["redis"].Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded redis, got %+v", body.Checks["redis"])
	}
	if len(body.Details) != 1 || !strings.HasPrefix(body.Details[0], "redis: ") {
		t.Fatalf("unexpected details %v", body.Details)
	}
}

func TestReadyz_WithoutSystemServiceAndOnError(t *testing.T) {
	f := newAPIFixture(t)
	f.router = NewRouter(WithHealthHandlers(NewHealthHandlers()))
	expectStatus(t, f.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)

	f.router = NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthSystemService(failingSystemService{err: errors.New("collect failed")}),
	)))
	rr := f.do(http.MethodGet, "/readyz", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decodeBody[map[string]any](t, rr)
	if body["error"] != "health_unavailable" || body["retryable"] != true {
		t.Fatalf("expected retryable health_unavailable, got %v", body)
	}
}

var _ services.SystemService = failingSystemService{}
