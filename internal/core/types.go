package core

import (
	"strings"
	"time"
)

// DetectedFormat identifies the wire format of an ingested file.
type DetectedFormat string

const (
	FormatTabular DetectedFormat = "tabular"
	FormatXML     DetectedFormat = "xml"
	FormatJSON    DetectedFormat = "json"
	FormatHL7     DetectedFormat = "hl7"
	FormatFHIR    DetectedFormat = "fhir"
	FormatUnknown DetectedFormat = "unknown"
)

// DomainType identifies what kind of entity a record describes.
// It selects the validation schema applied to the record.
type DomainType string

const (
	DomainPhysician     DomainType = "physician"
	DomainHospital      DomainType = "hospital"
	DomainMunicipality  DomainType = "municipality"
	DomainState         DomainType = "state"
	DomainPatient       DomainType = "patient"
	DomainDiagnosisCode DomainType = "diagnosis_code"
	DomainUnknown       DomainType = "unknown"
)

// DomainTypes lists the known domain types in declaration order.
// Detection ties are broken by position in this slice.
var DomainTypes = []DomainType{
	DomainPhysician,
	DomainHospital,
	DomainMunicipality,
	DomainState,
	DomainPatient,
	DomainDiagnosisCode,
}

// Known reports whether d is one of the concrete domain types.
func (d DomainType) Known() bool {
	for _, t := range DomainTypes {
		if t == d {
			return true
		}
	}
	return false
}

// Rank returns the tie-break position of d (lower wins).
// Unknown types rank after every known type.
func (d DomainType) Rank() int {
	for i, t := range DomainTypes {
		if t == d {
			return i
		}
	}
	return len(DomainTypes)
}

// ParseDomainType converts user input to a DomainType.
// Empty input and "auto-detect" map to DomainUnknown, meaning detect from content.
// Portuguese names are accepted alongside the English constants.
func ParseDomainType(s string) (DomainType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "auto-detect", "unknown":
		return DomainUnknown, true
	case "physician", "medico", "medicos":
		return DomainPhysician, true
	case "hospital", "hospitais":
		return DomainHospital, true
	case "municipality", "municipio", "municipios":
		return DomainMunicipality, true
	case "state", "estado", "estados":
		return DomainState, true
	case "patient", "paciente", "pacientes":
		return DomainPatient, true
	case "diagnosis_code", "diagnosis", "cid", "cid10", "icd10":
		return DomainDiagnosisCode, true
	default:
		return DomainUnknown, false
	}
}

// RawFile is one submitted file. It lives only for the duration of one
// ingestion call and is owned exclusively by that call.
type RawFile struct {
	Content      []byte
	Filename     string
	DeclaredMIME string
	Size         int64
}

// NewRawFile builds a RawFile, deriving Size from the content.
func NewRawFile(content []byte, filename, mime string) RawFile {
	return RawFile{
		Content:      content,
		Filename:     filename,
		DeclaredMIME: mime,
		Size:         int64(len(content)),
	}
}

// Status is the overall outcome of an ingestion.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Severity grades security findings and report issues.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "high":
		*s = SeverityHigh
	case "medium":
		*s = SeverityMedium
	default:
		*s = SeverityLow
	}
	return nil
}

// FindingCategory groups security findings.
type FindingCategory string

const (
	CategoryMaliciousScript FindingCategory = "malicious_script"
	CategorySQLInjection    FindingCategory = "sql_injection"
	CategoryPathTraversal   FindingCategory = "path_traversal"
	CategoryFileSize        FindingCategory = "file_size"
	CategoryFileType        FindingCategory = "file_type"
	CategoryFileName        FindingCategory = "file_name"
	CategoryAnomaly         FindingCategory = "content_anomaly"
	CategoryExecutable      FindingCategory = "executable_content"
)

// SecurityFinding is one category of suspicious content with its match count.
type SecurityFinding struct {
	Category   FindingCategory `json:"category"`
	Severity   Severity        `json:"severity"`
	MatchCount int             `json:"match_count"`
	Detail     string          `json:"detail,omitempty"`
}

// ScanResult is the outcome of one scanning pass.
type ScanResult struct {
	Passed   bool              `json:"passed"`
	Findings []SecurityFinding `json:"findings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// MaxSeverity returns the highest severity among the findings.
// A result with no findings is SeverityLow.
func (r ScanResult) MaxSeverity() Severity {
	max := SeverityLow
	for _, f := range r.Findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// Resolution is the action chosen for a duplicate candidate.
type Resolution string

const (
	ResolutionPending      Resolution = "pending"
	ResolutionKeepExisting Resolution = "keep_existing"
	ResolutionReplace      Resolution = "replace"
	ResolutionMerge        Resolution = "merge"
	ResolutionSkip         Resolution = "skip"
)

// ParseResolution converts user input to a Resolution.
func ParseResolution(s string) (Resolution, bool) {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case ResolutionKeepExisting:
		return ResolutionKeepExisting, true
	case ResolutionReplace:
		return ResolutionReplace, true
	case ResolutionMerge:
		return ResolutionMerge, true
	case ResolutionSkip:
		return ResolutionSkip, true
	default:
		return ResolutionPending, false
	}
}

// Writes reports whether applying r produces a record that must be persisted.
func (r Resolution) Writes() bool {
	return r == ResolutionReplace || r == ResolutionMerge
}

// DuplicateCandidate pairs an incoming record with an existing one that shares
// its natural key. Resolution starts Pending and changes only by explicit action.
type DuplicateCandidate struct {
	Index       int        `json:"index"`
	Incoming    *Record    `json:"incoming"`
	Existing    *Record    `json:"existing"`
	ExistingRef string     `json:"existing_ref"`
	NaturalKey  string     `json:"natural_key"`
	Confidence  float64    `json:"confidence"`
	Differing   []string   `json:"differing_fields,omitempty"`
	Resolution  Resolution `json:"resolution"`
}

// ExistingRecord is a stored record returned by the storage collaborator.
// Ref is an opaque key meaningful only to the store.
type ExistingRecord struct {
	Ref    string
	Record *Record
}

// PersistResult summarizes one Persist call.
type PersistResult struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}
