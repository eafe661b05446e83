package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-placement/internal/core/domain"
)

func TestCatalogClient_Exists(t *testing.T) {
	var gotNames []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/product/exists" {
			http.NotFound(w, r)
			return
		}
		gotNames = r.URL.Query()["name"]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"A","present":true,"price":"2.50"},{"name":"ghost","present":false,"price":null}]`))
	}))
	defer srv.Close()

	c := NewCatalogClient(srv.URL+"/", srv.Client())
	results, err := c.Exists(context.Background(), []string{"A", "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(gotNames, []string{"A", "ghost"}) {
		t.Errorf("expected both names in one request, got %v", gotNames)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Present || !results[0].Price.Decimal.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Present || results[1].Price.Valid {
		t.Errorf("unexpected second result: %+v", results[1])
	}
}

func TestCatalogClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCatalogClient(srv.URL, srv.Client())
	if _, err := c.Exists(context.Background(), []string{"A"}); !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("expected dependency unavailable for 500 response, got %v", err)
	}
}

func TestCatalogClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewCatalogClient(url, nil)
	_, err := c.Exists(context.Background(), []string{"A"})
	if !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("expected dependency unavailable for closed server, got %v", err)
	}
	if domain.IsBusinessError(err) {
		t.Errorf("transport failure classified as business error: %v", err)
	}
}
