package report

// # Issue Codes Reference
//
// Every problem found while ingesting a file becomes an Issue with a code
// that users can quote to support staff. Codes are grouped by stage:
//
// # File Rejections (FILE001-FILE099)
//
//	FILE001 - File too large: exceeds the size ceiling
//	          Patterns: "exceeds the", "file too large"
//	FILE002 - Empty file: the submitted file has no content
//	          Patterns: "file is empty"
//	FILE003 - Unsafe file name: traversal, separators, control characters
//	          Patterns: "file name", "rejected"
//	FILE004 - Blocked file type: executable or script extension
//	          Patterns: "is not allowed", "hides an executable"
//	FILE005 - Unexpected file type: unrecognized extension or MIME type
//	          Patterns: "not a recognized data format", "not on the allowed list", "is malformed"
//	FILE006 - No file: nothing was submitted
//	          Patterns: "no file provided"
//
// # Encoding (ENC001-ENC099)
//
//	ENC001 - Encoding repaired: the file was re-decoded or cleaned
//	ENC002 - Encoding damaged: invalid bytes could not be decoded
//	ENC003 - Truncated file: an exporter truncation marker was found
//
// # Parsing (PRS001-PRS099)
//
//	PRS001 - Unsupported format: the content matches no known format
//	PRS002 - Unreadable document: the document structure is invalid
//	PRS003 - Record dropped: one record could not be parsed
//	PRS004 - Record repaired: a record was parsed with adjustments
//
// # Validation (VAL001-VAL099)
//
//	VAL001 - Missing required fields
//	VAL002 - Field format warnings
//	VAL003 - Low data quality: score below the threshold
//	VAL004 - Unknown data type
//
// # Security (SEC001-SEC099)
//
//	SEC001 - Script injection content
//	SEC002 - SQL injection content
//	SEC003 - Path traversal content
//	SEC004 - Content anomaly or disguised binary
//	SEC005 - Quarantine recommended: risk too high for automatic processing
//
// # Duplicates (DUP001-DUP099)
//
//	DUP001 - Duplicate records need a resolution
//
// # Service (ING001-ING099, BAT001-BAT099)
//
//	ING001 - System busy: too many ingestions in progress
//	ING002 - Request cancelled or timed out
//	BAT001 - Batch not found or expired
//	BAT002 - Batch has unresolved duplicates
//	BAT003 - Invalid resolution or bulk action
//	BAT004 - Batch is quarantined
//	RATE001 - Too many requests
//
// # Default (ING000)
//
//	ING000 - Unexpected error; check the service logs
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type codeEntry struct {
	patterns []string
	msg      UserMessage
}

var catalog = []codeEntry{
	{[]string{"file size", "exceeds the", "file too large"}, UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}},
	{[]string{"file is empty", "empty file"}, UserMessage{
		Message: "The submitted file is empty",
		Action:  "Submit a file that contains data",
		Code:    "FILE002",
	}},
	{[]string{"hides an executable", "is not allowed"}, UserMessage{
		Message: "This file type is blocked",
		Action:  "Export the data as CSV, Excel, JSON, XML, HL7 or FHIR",
		Code:    "FILE004",
	}},
	{[]string{"file name"}, UserMessage{
		Message: "The file name is not safe",
		Action:  "Rename the file using letters, digits, dashes and a single extension",
		Code:    "FILE003",
	}},
	{[]string{"not a recognized data format", "not on the allowed list", "is malformed"}, UserMessage{
		Message: "The file type was not recognized",
		Action:  "Check that the file extension matches its content",
		Code:    "FILE005",
	}},
	{[]string{"no file provided"}, UserMessage{
		Message: "No file was submitted",
		Action:  "Select a file to ingest",
		Code:    "FILE006",
	}},

	{[]string{"decoded as", "mis-decoded", "invisible characters", "null bytes", "control characters"}, UserMessage{
		Message: "The file's character encoding was repaired",
		Action:  "Check accented names in the result; save the file as UTF-8 next time",
		Code:    "ENC001",
	}},
	{[]string{"no clean decoding", "replacement character"}, UserMessage{
		Message: "The file contains characters that could not be decoded",
		Action:  "Save the file as UTF-8 and submit it again",
		Code:    "ENC002",
	}},
	{[]string{"truncation marker"}, UserMessage{
		Message: "The file appears to have been truncated",
		Action:  "Export the complete file again",
		Code:    "ENC003",
	}},

	{[]string{"unsupported format", "unknown format"}, UserMessage{
		Message: "The file format is not supported",
		Action:  "Submit CSV, Excel, JSON, XML, HL7 v2 or FHIR content",
		Code:    "PRS001",
	}},
	{[]string{"invalid json", "invalid xml", "invalid fhir", "unrecognized json shape", "no msh segment", "no resourcetype", "open workbook", "no header", "cannot determine data type"}, UserMessage{
		Message: "The document could not be read",
		Action:  "Check that the file is complete and well formed",
		Code:    "PRS002",
	}},
	{[]string{"expected", "columns", "skipped"}, UserMessage{
		Message: "A record was read with adjustments",
		Action:  "Review the listed rows in the source file",
		Code:    "PRS004",
	}},
	{[]string{"row ", "message ", "entry", "record"}, UserMessage{
		Message: "A record could not be parsed and was dropped",
		Action:  "Fix the listed records and submit them again",
		Code:    "PRS003",
	}},

	{[]string{"missing required"}, UserMessage{
		Message: "Required fields are missing",
		Action:  "Ensure every record has the required fields for its type",
		Code:    "VAL001",
	}},
	{[]string{"format warning", "invalid format"}, UserMessage{
		Message: "Some field values have an unexpected format",
		Action:  "Review the listed fields; the records were kept",
		Code:    "VAL002",
	}},
	{[]string{"quality score"}, UserMessage{
		Message: "Data quality is below the acceptable threshold",
		Action:  "Fix the invalid records and submit the file again",
		Code:    "VAL003",
	}},
	{[]string{"could not determine data type", "no data rows", "schema not found", "suggests"}, UserMessage{
		Message: "The data type could not be determined reliably",
		Action:  "Name the file after its content or choose the data type explicitly",
		Code:    "VAL004",
	}},

	{[]string{"malicious script", "malicious_script"}, UserMessage{
		Message: "The file contains script injection content",
		Action:  "Remove HTML or script content from the data",
		Code:    "SEC001",
	}},
	{[]string{"sql injection", "sql_injection"}, UserMessage{
		Message: "The file contains SQL injection content",
		Action:  "Remove SQL fragments from the data",
		Code:    "SEC002",
	}},
	{[]string{"path traversal", "path_traversal"}, UserMessage{
		Message: "The file contains path traversal content",
		Action:  "Remove file paths from the data",
		Code:    "SEC003",
	}},
	{[]string{"content anomaly", "content_anomaly", "sniffed as", "repeats", "longest line", "replacement or control"}, UserMessage{
		Message: "The file content looks abnormal",
		Action:  "Check that the file is a genuine data export",
		Code:    "SEC004",
	}},
	{[]string{"batch is quarantined"}, UserMessage{
		Message: "The batch is held for security review",
		Action:  "Apply the force action to release it",
		Code:    "BAT004",
	}},
	{[]string{"quarantine"}, UserMessage{
		Message: "The file carries high-risk content and should be quarantined",
		Action:  "Review the findings and force processing only with a justification",
		Code:    "SEC005",
	}},

	{[]string{"too many ingests"}, UserMessage{
		Message: "System is busy processing other files",
		Action:  "Please wait a moment and try again",
		Code:    "ING001",
	}},
	{[]string{"context canceled", "context deadline exceeded"}, UserMessage{
		Message: "Request was cancelled or timed out",
		Action:  "Try again, or submit a smaller file",
		Code:    "ING002",
	}},
	{[]string{"batch not found"}, UserMessage{
		Message: "Batch not found",
		Action:  "The batch may have expired. Submit the file again",
		Code:    "BAT001",
	}},
	{[]string{"unresolved"}, UserMessage{
		Message: "The batch still has unresolved duplicates",
		Action:  "Resolve every duplicate before committing",
		Code:    "BAT002",
	}},
	{[]string{"invalid resolution", "unknown bulk action"}, UserMessage{
		Message: "The resolution is not valid",
		Action:  "Use keep_existing, replace, merge or skip; or skip_all or force",
		Code:    "BAT003",
	}},
	{[]string{"candidate not found"}, UserMessage{
		Message: "No duplicate exists at that record index",
		Action:  "Use an index from the batch's duplicate list",
		Code:    "BAT005",
	}},
	{[]string{"duplicate"}, UserMessage{
		Message: "Some records duplicate existing data",
		Action:  "Resolve each duplicate or apply skip-all or force before committing",
		Code:    "DUP001",
	}},
	{[]string{"rate limit"}, UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ING000",
}

var byCode = func() map[string]UserMessage {
	m := map[string]UserMessage{defaultMessage.Code: defaultMessage}
	for _, e := range catalog {
		m[e.msg.Code] = e.msg
	}
	return m
}()

// MapError converts a technical error to a user-friendly message.
// It returns the zero message for a nil error and ING000 when no pattern
// matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	return MapText(err.Error())
}

// MapText is MapError for plain message text.
func MapText(text string) UserMessage {
	lower := strings.ToLower(text)
	for _, e := range catalog {
		for _, p := range e.patterns {
			if strings.Contains(lower, p) {
				return e.msg
			}
		}
	}
	return defaultMessage
}

// Lookup returns the message registered for code.
func Lookup(code string) (UserMessage, bool) {
	m, ok := byCode[code]
	return m, ok
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
