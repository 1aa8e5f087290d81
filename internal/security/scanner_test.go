package security

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/healthingest/internal/core"
)

func TestPrescan(t *testing.T) {
	s := New(Options{})
	tests := []struct {
		name       string
		filename   string
		mime       string
		size       int64
		strict     bool
		wantPassed bool
		wantErrs   int
		wantWarns  int
	}{
		{"valid csv", "medicos.csv", "text/csv; charset=utf-8", 1024, false, true, 0, 0},
		{"empty", "medicos.csv", "text/csv", 0, false, false, 1, 0},
		{"oversized", "medicos.csv", "text/csv", 150 * 1024 * 1024, false, false, 1, 0},
		{"at limit", "medicos.csv", "text/csv", MaxFileSize, false, true, 0, 0},
		{"traversal", "../etc/passwd.csv", "text/csv", 10, false, false, 1, 0},
		{"separator", "dir/medicos.csv", "text/csv", 10, false, false, 1, 0},
		{"blocked extension", "payload.exe", "application/octet-stream", 10, false, false, 1, 0},
		{"double extension", "medicos.exe.csv", "text/csv", 10, false, false, 1, 0},
		{"odd mime warns", "medicos.csv", "image/png", 10, false, true, 0, 1},
		{"odd mime strict", "medicos.csv", "image/png", 10, true, false, 0, 1},
		{"unknown extension warns", "medicos.foo", "", 10, false, true, 0, 1},
		{"no mime declared", "pacientes.hl7", "", 10, false, true, 0, 0},
		{"fhir mime", "bundle.json", "application/fhir+json", 10, true, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Prescan(tt.filename, tt.mime, tt.size, tt.strict)
			if res.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v (errors %v, warnings %v)", res.Passed, tt.wantPassed, res.Errors, res.Warnings)
			}
			if len(res.Errors) != tt.wantErrs {
				t.Errorf("Errors = %v, want %d", res.Errors, tt.wantErrs)
			}
			if len(res.Warnings) != tt.wantWarns {
				t.Errorf("Warnings = %v, want %d", res.Warnings, tt.wantWarns)
			}
		})
	}
}

func TestNew_ExtraMIMEAndLimit(t *testing.T) {
	s := New(Options{MaxFileSize: 10, ExtraMIMETypes: []string{" Application/X-Custom "}})
	if s.MaxSize() != 10 {
		t.Errorf("MaxSize = %d, want 10", s.MaxSize())
	}
	if res := s.Prescan("a.csv", "application/x-custom", 5, true); !res.Passed {
		t.Errorf("extra MIME type should be allowed: %v", res.Warnings)
	}
	if res := s.Prescan("a.csv", "text/csv", 11, false); res.Passed {
		t.Error("size above configured limit should fail")
	}
	if New(Options{MaxFileSize: 2 * MaxFileSize}).MaxSize() != MaxFileSize {
		t.Error("configured limit must not exceed the hard ceiling")
	}
}

func TestPostscan(t *testing.T) {
	s := New(Options{})
	tests := []struct {
		name string
		text string
		want map[core.FindingCategory]core.Severity
	}{
		{"clean", "codigo,nome\n1,Maria D'Avila\n", nil},
		{"script", "nome\n<script>alert(1)</script>\n", map[core.FindingCategory]core.Severity{core.CategoryMaliciousScript: core.SeverityHigh}},
		{"event handler", `<img src=x onerror=alert(1)>`, map[core.FindingCategory]core.Severity{core.CategoryMaliciousScript: core.SeverityHigh}},
		{"sql", "nome\nx'; DROP TABLE pacientes; --\n", map[core.FindingCategory]core.Severity{core.CategorySQLInjection: core.SeverityHigh}},
		{"union", "1 UNION SELECT senha FROM usuarios", map[core.FindingCategory]core.Severity{core.CategorySQLInjection: core.SeverityHigh}},
		{"traversal", "arquivo\n../../etc/passwd\n", map[core.FindingCategory]core.Severity{core.CategoryPathTraversal: core.SeverityMedium}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Postscan(tt.text)
			got := make(map[core.FindingCategory]core.Severity)
			for _, f := range res.Findings {
				got[f.Category] = f.Severity
				if f.MatchCount < 1 {
					t.Errorf("%s MatchCount = %d", f.Category, f.MatchCount)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("findings = %v, want %v", got, tt.want)
			}
			for cat, sev := range tt.want {
				if got[cat] != sev {
					t.Errorf("%s severity = %v, want %v", cat, got[cat], sev)
				}
			}
			if res.Passed != (len(tt.want) == 0) {
				t.Errorf("Passed = %v", res.Passed)
			}
		})
	}
}

func TestPostscan_CountsEveryMatch(t *testing.T) {
	s := New(Options{})
	res := s.Postscan("<script>a</script>\n<script>b</script>")
	if len(res.Findings) != 1 {
		t.Fatalf("Findings = %v", res.Findings)
	}
	// two openings plus two closings
	if got := res.Findings[0].MatchCount; got != 4 {
		t.Errorf("MatchCount = %d, want 4", got)
	}
}

func TestRisk(t *testing.T) {
	high := core.ScanResult{Findings: []core.SecurityFinding{{Severity: core.SeverityHigh}}}
	medium := core.ScanResult{Passed: false, Findings: []core.SecurityFinding{{Severity: core.SeverityMedium}}}
	warnOnly := core.ScanResult{Passed: true, Warnings: []string{"odd mime"}}
	clean := core.ScanResult{Passed: true}
	failedPre := core.ScanResult{Passed: false, Warnings: []string{"odd mime"}}

	tests := []struct {
		name    string
		strict  bool
		results []core.ScanResult
		want    core.Severity
	}{
		{"all clean", false, []core.ScanResult{clean, clean}, core.SeverityLow},
		{"high post", false, []core.ScanResult{clean, high}, core.SeverityHigh},
		{"medium post", false, []core.ScanResult{clean, medium}, core.SeverityMedium},
		{"warnings only", false, []core.ScanResult{warnOnly, clean}, core.SeverityMedium},
		{"strict prescan failure", true, []core.ScanResult{failedPre, clean}, core.SeverityHigh},
		{"non-strict prescan warnings", false, []core.ScanResult{failedPre, clean}, core.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Risk(tt.strict, tt.results...); got != tt.want {
				t.Errorf("Risk = %v, want %v", got, tt.want)
			}
		})
	}
	if !ShouldQuarantine(core.SeverityHigh) || ShouldQuarantine(core.SeverityMedium) {
		t.Error("only High risk should quarantine")
	}
}

func TestDeepScan(t *testing.T) {
	s := New(Options{})

	if res := s.DeepScan([]byte("codigo,nome\n1,Maria\n"), "codigo,nome\n1,Maria\n"); !res.Passed {
		t.Errorf("clean csv flagged: %v", res.Findings)
	}

	elf := append([]byte("\x7fELF\x02\x01\x01\x00"), make([]byte, 64)...)
	res := s.DeepScan(elf, "")
	if res.Passed || res.MaxSeverity() != core.SeverityHigh {
		t.Errorf("ELF binary: Passed=%v max=%v findings=%v", res.Passed, res.MaxSeverity(), res.Findings)
	}

	run := "nome\n" + strings.Repeat("A", MaxRepeatedRun+10) + "\n"
	res = s.DeepScan([]byte(run), run)
	if res.Passed || res.Findings[0].Category != core.CategoryAnomaly {
		t.Errorf("repeated run: %v", res.Findings)
	}

	noisy := strings.Repeat("a\x01\x02", 50)
	res = s.DeepScan(nil, noisy)
	if res.Passed {
		t.Error("control-heavy text should be flagged")
	}
}
