package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zgpcy/cloud-cost-monitor/internal/aggregator"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
)

func sampleSummary() *aggregator.MultiCloudCostSummary {
	return &aggregator.MultiCloudCostSummary{
		TotalCost:   300,
		Currency:    "USD",
		PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		ProviderBreakdown: map[string]float64{
			"aws":   200,
			"azure": 100,
		},
		CombinedDailyCosts: []aggregator.CombinedDailyCost{
			{Date: "2024-01-01", TotalCost: 120, Currency: "USD", ProviderBreakdown: map[string]float64{"aws": 80, "azure": 40}},
			{Date: "2024-01-02", TotalCost: 180, Currency: "USD", ProviderBreakdown: map[string]float64{"aws": 120, "azure": 60}},
		},
		CombinedServiceBreakdown: map[string]float64{
			"AWS: Amazon EC2":       200,
			"AZURE: Virtual | Disk": 100,
		},
		CombinedAccountBreakdown: map[string]aggregator.CombinedAccount{
			"aws:111": {Provider: "aws", AccountID: "111", AccountName: "production", ProviderLabel: "AWS Account", TotalCost: 200, Percentage: 100, Currency: "USD"},
			"azure:sub-1": {Provider: "azure", AccountID: "sub-1", AccountName: "sub-1", ProviderLabel: "Azure Subscription", TotalCost: 100, Percentage: 100, Currency: "USD"},
		},
		CombinedRegionalBreakdown: map[string]float64{
			"us-east-1":  200,
			"westeurope": 100,
		},
	}
}

func sampleAlerts() []monitor.Alert {
	base := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	return []monitor.Alert{
		{
			ID: "w1", Provider: "aws", Level: monitor.LevelWarning, Message: "AWS cost 200.00 USD exceeds warning threshold 150.00 USD",
			CurrentValue: 200, ThresholdValue: 150, Currency: "USD", Timestamp: base, AsOfDate: "2024-01-02",
			Metadata: map[string]any{
				monitor.MetaExceededBy:        50.0,
				monitor.MetaProviderBreakdown: map[string]float64{"aws": 200, "azure": 100},
			},
		},
		{
			ID: "c1", Provider: "all", Level: monitor.LevelCritical, Message: "Total cost 300.00 USD exceeds critical threshold 250.00 USD",
			CurrentValue: 300, ThresholdValue: 250, Currency: "USD", Timestamp: base.Add(-time.Hour), AsOfDate: "2024-01-02",
		},
		{
			ID: "r1", Provider: "azure", Level: monitor.LevelWarning, Message: "resolved",
			CurrentValue: 90, ThresholdValue: 80, Currency: "USD", Timestamp: base.Add(time.Hour), AsOfDate: "2024-01-01",
			Resolved: true,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"text", FormatText, false},
		{"TABLE", FormatTable, false},
		{"md", FormatMarkdown, false},
		{" json ", FormatJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}

	if by, err := ParseSortBy(""); err != nil || by != SortByTimestamp {
		t.Errorf("ParseSortBy(\"\") = %q, %v", by, err)
	}
	if _, err := ParseSortBy("cost"); err == nil {
		t.Error("ParseSortBy should reject unknown keys")
	}
}

func TestSummary_Text(t *testing.T) {
	var buf bytes.Buffer
	failures := map[string]error{"gcp": errors.New("authentication failed")}
	if err := Summary(&buf, sampleSummary(), failures, FormatText); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Multi-cloud cost summary (2024-01-01 to 2024-01-02)",
		"Total: 300.00 USD",
		"AWS",
		"66.7%",
		"AWS: Amazon EC2: 200.00 USD",
		"AWS Account production (111)",
		"Azure Subscription sub-1:",
		"2024-01-02  180.00 USD",
		"gcp: authentication failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "AWS: Amazon EC2") > strings.Index(out, "AZURE: Virtual") {
		t.Error("services should be ranked by cost")
	}
}

func TestSummary_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Summary(&buf, sampleSummary(), nil, FormatTable); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	if fields := strings.Fields(lines[0]); strings.Join(fields, " ") != "DATE AWS AZURE TOTAL" {
		t.Errorf("header: got %q", lines[0])
	}
	if fields := strings.Fields(lines[3]); strings.Join(fields, " ") != "TOTAL 200.00 100.00 300.00" {
		t.Errorf("total row: got %q", lines[3])
	}
	if !strings.Contains(buf.String(), "PROVIDER  ACCOUNT") {
		t.Errorf("account table missing:\n%s", buf.String())
	}
}

func TestSummary_Markdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Summary(&buf, sampleSummary(), nil, FormatMarkdown); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "| AWS | 200.00 | 66.7% |") {
		t.Errorf("provider row missing:\n%s", out)
	}
	if !strings.Contains(out, `AZURE: Virtual \| Disk`) {
		t.Errorf("pipe should be escaped:\n%s", out)
	}
	if strings.Contains(out, "Provider errors") {
		t.Error("no error section expected")
	}
}

func TestSummary_JSON(t *testing.T) {
	var buf bytes.Buffer
	failures := map[string]error{"gcp": errors.New("boom")}
	if err := Summary(&buf, sampleSummary(), failures, FormatJSON); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	var doc struct {
		Summary aggregator.MultiCloudCostSummary `json:"summary"`
		Errors  map[string]string                `json:"errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Summary.TotalCost != 300 || doc.Errors["gcp"] != "boom" {
		t.Errorf("decoded: total %v errors %v", doc.Summary.TotalCost, doc.Errors)
	}
}

func TestSummary_Nil(t *testing.T) {
	if err := Summary(&bytes.Buffer{}, nil, nil, FormatText); err == nil {
		t.Error("expected error for nil summary")
	}
}

func TestSortAlerts(t *testing.T) {
	alerts := sampleAlerts()

	tests := []struct {
		by   SortBy
		want []string
	}{
		{SortByTimestamp, []string{"r1", "w1", "c1"}},
		{SortByLevel, []string{"c1", "r1", "w1"}},
		{SortByProvider, []string{"c1", "w1", "r1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.by), func(t *testing.T) {
			sorted := SortAlerts(alerts, tt.by)
			var ids []string
			for _, a := range sorted {
				ids = append(ids, a.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("order: got %v, want %v", ids, tt.want)
			}
		})
	}

	if alerts[0].ID != "w1" {
		t.Error("SortAlerts must not modify its input")
	}
}

func TestAlerts_Formats(t *testing.T) {
	alerts := sampleAlerts()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Alerts(&buf, alerts, FormatText, SortByLevel); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 lines, got %d", len(lines))
		}
		if !strings.HasPrefix(lines[0], "2024-01-02 07:00:00 [CRITICAL] [ALL]") {
			t.Errorf("first line: %q", lines[0])
		}
		if !strings.Contains(lines[1], "<resolved>") {
			t.Errorf("resolved alert should be marked: %q", lines[1])
		}
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Alerts(&buf, alerts, FormatTable, SortByTimestamp); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(buf.String(), "ID") || !strings.Contains(buf.String(), "resolved") {
			t.Errorf("table output:\n%s", buf.String())
		}
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Alerts(&buf, alerts[:1], FormatMarkdown, SortByTimestamp); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"## WARNING Alert", "- Exceeded by: 50.00 USD", "  - azure: 100.00 USD"} {
			if !strings.Contains(out, want) {
				t.Errorf("markdown missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Alerts(&buf, alerts, FormatJSON, SortByTimestamp); err != nil {
			t.Fatal(err)
		}
		var decoded []monitor.Alert
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 3 {
			t.Errorf("decoded %d alerts, err %v", len(decoded), err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Alerts(&buf, nil, FormatText, SortByTimestamp); err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(buf.String()) != NoAlerts {
			t.Errorf("got %q", buf.String())
		}

		buf.Reset()
		if err := Alerts(&buf, nil, FormatJSON, SortByTimestamp); err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("empty JSON: got %q", buf.String())
		}
	})
}

func TestAlertSummary(t *testing.T) {
	if got := AlertSummary(nil); got != "No active alerts" {
		t.Errorf("empty: got %q", got)
	}
	got := AlertSummary(sampleAlerts())
	want := "2 active alerts: 1 critical, 1 warning (providers: all, aws)"
	if got != want {
		t.Errorf("AlertSummary() = %q, want %q", got, want)
	}
}

func TestPrometheus(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if err := Prometheus(&buf, sampleSummary(), sampleAlerts(), now); err != nil {
		t.Fatalf("Prometheus() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# TYPE cloud_cost_total gauge",
		`cloud_cost_total{currency="USD"} 300`,
		`cloud_cost_provider_total{currency="USD",provider="aws"} 200`,
		`cloud_cost_service_total{currency="USD",provider="aws",service="Amazon EC2"} 200`,
		`cloud_cost_region_total{currency="USD",region="westeurope"} 100`,
		`cloud_cost_account_total{account_id="111",account_name="production",currency="USD",provider="aws"} 200`,
		`cloud_cost_daily_total{currency="USD",date="2024-01-02"} 180`,
		`cloud_cost_daily_provider_total{currency="USD",date="2024-01-01",provider="azure"} 40`,
		"cloud_cost_data_range_days 2",
		`cloud_cost_alerts_active{level="critical"} 1`,
		`cloud_cost_alerts_active{level="warning"} 1`,
		`cloud_cost_alert_current_value{date="2024-01-02",level="critical",provider="all"} 300`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, `provider="azure",level="warning"`) || strings.Contains(out, `date="2024-01-01",level="warning"`) {
		t.Error("resolved alerts should not be exported")
	}
}

func TestPrometheus_DailyWindow(t *testing.T) {
	s := sampleSummary()
	s.CombinedDailyCosts = nil
	for d := 1; d <= 10; d++ {
		s.CombinedDailyCosts = append(s.CombinedDailyCosts, aggregator.CombinedDailyCost{
			Date:              time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			ProviderBreakdown: map[string]float64{"aws": 1, "azure": 1},
		})
	}

	var buf bytes.Buffer
	if err := Prometheus(&buf, s, nil, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "cloud_cost_daily_total{"); got != DailyMetricDays {
		t.Errorf("daily series: got %d, want %d", got, DailyMetricDays)
	}
	if strings.Contains(buf.String(), `date="2024-01-03"`) {
		t.Error("oldest days should be dropped")
	}
	if strings.Contains(buf.String(), "cloud_cost_last_update_timestamp") {
		t.Error("zero update time should not be exported")
	}
}

func TestPrometheus_NilSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := Prometheus(&buf, nil, nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "cloud_cost_total") {
		t.Error("no cost metrics expected without a summary")
	}
	if !strings.Contains(buf.String(), `cloud_cost_alerts_active{level="warning"} 0`) {
		t.Errorf("alert gauges should always be present:\n%s", buf.String())
	}
}

func TestLabelValue(t *testing.T) {
	if got := labelValue(""); got != "unknown" {
		t.Errorf("empty: got %q", got)
	}
	if got := labelValue("a\nb"); got != "a b" {
		t.Errorf("newline: got %q", got)
	}
	if got := labelValue(strings.Repeat("é", 150)); len([]rune(got)) != maxLabelLength {
		t.Errorf("truncation: got %d runes", len([]rune(got)))
	}
}

func TestIcinga(t *testing.T) {
	th := monitor.NewThresholds()
	th.SetGlobal(monitor.LevelWarning, 150)
	th.SetGlobal(monitor.LevelCritical, 250)
	th.SetProvider("aws", monitor.LevelCritical, 100)

	var buf bytes.Buffer
	status, err := Icinga(&buf, sampleSummary(), map[string]error{"gcp": errors.New("denied")}, th)
	if err != nil {
		t.Fatalf("Icinga() error = %v", err)
	}
	// On 2024-01-02 aws 120 reaches its provider critical of 100; the total 180 is only a warning
	if status != IcingaCritical {
		t.Errorf("status: got %v, want CRITICAL", status)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected status line plus 4 detail lines, got:\n%s", buf.String())
	}
	first := lines[0]
	for _, want := range []string{
		"CRITICAL - Cost 2024-01-02: 180.00 USD (aws: 120.00, azure: 60.00) | ",
		"'total_cost'=180.00USD;150;250;0;",
		"'aws_cost'=120.00USD;150;100;0;",
		"'azure_cost'=60.00USD;150;250;0;",
	} {
		if !strings.Contains(first, want) {
			t.Errorf("status line missing %q:\n%s", want, first)
		}
	}
	if lines[1] != "AWS: 120.00 USD [CRITICAL]" || lines[2] != "AZURE: 60.00 USD [OK]" {
		t.Errorf("unexpected provider lines: %q, %q", lines[1], lines[2])
	}
	if lines[3] != "GCP: ERROR - denied" {
		t.Errorf("unexpected failure line: %q", lines[3])
	}
	if lines[4] != "Period 2024-01-01 to 2024-01-02: 300.00 USD" {
		t.Errorf("unexpected period line: %q", lines[4])
	}
}

// The period total of 300 exceeds the warning limit, but no single day does.
func TestIcinga_EvaluatesLastDay(t *testing.T) {
	th := monitor.NewThresholds()
	th.SetGlobal(monitor.LevelWarning, 250)

	var buf bytes.Buffer
	status, err := Icinga(&buf, sampleSummary(), nil, th)
	if err != nil {
		t.Fatalf("Icinga() error = %v", err)
	}
	if status != IcingaOK {
		t.Errorf("status: got %v, want OK:\n%s", status, buf.String())
	}
}

func TestIcinga_NoThresholds(t *testing.T) {
	var buf bytes.Buffer
	status, err := Icinga(&buf, sampleSummary(), nil, monitor.NewThresholds())
	if err != nil {
		t.Fatalf("Icinga() error = %v", err)
	}
	if status != IcingaOK {
		t.Errorf("status: got %v, want OK", status)
	}
	if !strings.Contains(buf.String(), "'total_cost'=180.00USD;;;0;") {
		t.Errorf("expected empty threshold fields:\n%s", buf.String())
	}
}

func TestIcinga_NoDays(t *testing.T) {
	s := sampleSummary()
	s.CombinedDailyCosts = nil

	var buf bytes.Buffer
	status, err := Icinga(&buf, s, nil, monitor.NewThresholds())
	if err != nil {
		t.Fatalf("Icinga() error = %v", err)
	}
	if status != IcingaUnknown {
		t.Errorf("status: got %v, want UNKNOWN", status)
	}
}

func TestIcinga_NilSummary(t *testing.T) {
	var buf bytes.Buffer
	status, err := Icinga(&buf, nil, map[string]error{"aws": errors.New("throttled")}, monitor.NewThresholds())
	if err != nil {
		t.Fatalf("Icinga() error = %v", err)
	}
	if status != IcingaUnknown || int(status) != 3 {
		t.Errorf("status: got %v (%d), want UNKNOWN (3)", status, int(status))
	}
	if !strings.HasPrefix(buf.String(), "UNKNOWN - no cost data available\n") || !strings.Contains(buf.String(), "AWS: ERROR - throttled") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
