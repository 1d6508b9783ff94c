package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics("test")
	m.Observe("import", nil)
	m.Observe("import", errors.New("boom"))
	m.Imported(3, 1)
	m.Exported(5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	for _, want := range []string{
		`test_operations_total{operation="import",outcome="ok"} 1`,
		`test_operations_total{operation="import",outcome="error"} 1`,
		`test_imported_scripts_total{outcome="ok"} 3`,
		`test_imported_scripts_total{outcome="failed"} 1`,
		`test_exported_scripts_total 5`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
