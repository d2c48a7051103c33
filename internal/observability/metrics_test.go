package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricCityLabel(t *testing.T) {
	SetTrackedCities([]string{"London", " New York "})
	defer SetTrackedCities(nil)

	tests := []struct {
		in   string
		want string
	}{
		{in: "london", want: "london"},
		{in: "London", want: "london"},
		{in: "new york", want: "new york"},
		{in: "tokyo", want: "other"},
		{in: "", want: "other"},
	}

	for _, tc := range tests {
		if got := MetricCityLabel(tc.in); got != tc.want {
			t.Errorf("MetricCityLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMetricCityLabel_NoTrackedCities(t *testing.T) {
	SetTrackedCities(nil)
	if got := MetricCityLabel("london"); got != "other" {
		t.Errorf("MetricCityLabel() = %q, want other with empty allow-list", got)
	}
}

// TestRecordAnalysis_CityLabel verifies that RecordAnalysis counts analyses
// under the tracked city's label and folds untracked cities into "other".
func TestRecordAnalysis_CityLabel(t *testing.T) {
	SetTrackedCities([]string{"London"})
	defer SetTrackedCities(nil)

	RecordAnalysis("London", map[string]string{"temperature": "Normal"})
	RecordAnalysis("reykjavik", nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `analysesByCityTotal{city="london"}`) {
		t.Error("metrics output should count the tracked city under its own label")
	}
	if !strings.Contains(body, `analysesByCityTotal{city="other"}`) {
		t.Error("metrics output should fold untracked cities into city=\"other\"")
	}
}
