package action

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxflow/voxflow/internal/models"
)

func TestExecuteSubstitutesPhoneAndHeaders(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"customer":{"name":"Ada","plan":"gold"},"balance":12.5}`))
	}))
	defer srv.Close()

	cfg := models.ApiConfig{
		Endpoint: srv.URL + "/lookup?phone={phone}",
		Headers:  []models.Header{{Key: "Authorization", Value: "Bearer token123"}},
		ResponseMapping: []models.ResponseMapping{
			{Path: "customer.name", Label: "Name", Enabled: true},
			{Path: "customer.plan", Label: "Plan", Enabled: false},
			{Path: "balance", Label: "Balance", Enabled: true},
			{Path: "missing.field", Label: "Ghost", Enabled: true},
		},
	}

	res := NewExecutor(nil).Execute(context.Background(), cfg, "+1 555 0100")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotPath != "/lookup" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "phone=%2B1+555+0100") {
		t.Errorf("phone not substituted/escaped: %q", gotQuery)
	}
	if gotAuth != "Bearer token123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if !strings.Contains(res.Context, "Name: Ada") {
		t.Errorf("enabled mapping missing: %q", res.Context)
	}
	if strings.Contains(res.Context, "Plan") {
		t.Errorf("disabled mapping leaked: %q", res.Context)
	}
	if !strings.Contains(res.Context, "Balance: 12.5") {
		t.Errorf("numeric mapping missing: %q", res.Context)
	}
	if strings.Contains(res.Context, "Ghost") {
		t.Errorf("missing path should be skipped: %q", res.Context)
	}
}

func TestExecuteNoEnabledMappings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"a":1}`))
	}))
	defer srv.Close()

	res := NewExecutor(nil).Execute(context.Background(), models.ApiConfig{Endpoint: srv.URL}, "")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Context != "" {
		t.Errorf("expected empty context, got %q", res.Context)
	}
}

func TestExecuteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := NewExecutor(nil).Execute(context.Background(), models.ApiConfig{Endpoint: srv.URL}, "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Err, "502") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestExecuteUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	res := NewExecutor(nil).Execute(context.Background(), models.ApiConfig{Endpoint: srv.URL}, "")
	if res.Success {
		t.Fatal("expected failure for unreachable endpoint")
	}
	if res.Err == "" {
		t.Error("expected error description")
	}
}

func TestExecuteEmptyEndpoint(t *testing.T) {
	res := NewExecutor(nil).Execute(context.Background(), models.ApiConfig{}, "5550100")
	if res.Success {
		t.Fatal("expected failure for empty endpoint")
	}
}
