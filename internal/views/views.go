package views

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
)

//go:embed templates
var viewsFS embed.FS

var dashboardTmpl *template.Template

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	dashboardTmpl, err = template.ParseFS(sub, "*.html")
	if err != nil {
		return err
	}
	return nil
}

// LoadTemplates loads embedded dashboard templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// DashboardData is the view model for the dashboard page.
type DashboardData struct {
	City         string // raw search input, echoed back into the form
	ErrorMessage string
	Report       *ReportView
}

// ReportView is the rendered form of an anomaly report.
type ReportView struct {
	City          string
	Country       string
	Coordinates   string
	ObservedAt    string
	SeasonLabel   string
	BaselineYears int
	Cards         []MetricCard
	Charts        []ChartView
}

// MetricCard is one metric tile: current value, seasonal baseline, and severity.
type MetricCard struct {
	Label      string
	Value      string
	Delta      string
	ZScore     string
	Mean       string
	StdDev     string
	SampleSize int
	Severity   string
	CSSClass   string
	Undefined  bool
}

// ChartBar is a single histogram bar, scaled to the tallest bin.
type ChartBar struct {
	HeightPct int
	Current   bool
	Mean      bool
}

// ChartView is the seasonal distribution chart for one metric.
type ChartView struct {
	Label    string
	MinLabel string
	MaxLabel string
	Bars     []ChartBar
}

// RenderDashboard executes the dashboard template into w.
func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}
