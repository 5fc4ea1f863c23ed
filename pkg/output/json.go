package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/models"
)

// JSONFormatter formats output as JSON for automation and scripting
type JSONFormatter struct{}

// JSONObject represents a remote object in JSON output
type JSONObject struct {
	Path             string            `json:"path"`
	Name             string            `json:"name"`
	Kind             string            `json:"kind"`
	Reference        string            `json:"reference,omitempty"`
	Size             *int64            `json:"size,omitempty"`
	Permission       string            `json:"permission,omitempty"`
	Owner            string            `json:"owner,omitempty"`
	Group            string            `json:"group,omitempty"`
	ModificationTime string            `json:"modification_time,omitempty"`
	AccessTime       string            `json:"access_time,omitempty"`
	Details          map[string]string `json:"details,omitempty"`
}

// JSONReportData represents the final report of a transfer
type JSONReportData struct {
	OperationID      string      `json:"operation_id"`
	Action           string      `json:"action"`
	Status           string      `json:"status"`
	Source           string      `json:"source"`
	Dest             string      `json:"dest,omitempty"`
	Duration         string      `json:"duration"`
	DurationMs       int64       `json:"duration_ms"`
	FilesTransferred int         `json:"files_transferred"`
	FilesExcluded    int         `json:"files_excluded,omitempty"`
	FilesSkipped     int         `json:"files_skipped,omitempty"`
	BytesTransferred int64       `json:"bytes_transferred"`
	AverageSpeed     int64       `json:"average_speed_bytes_per_sec,omitempty"`
	Verified         bool        `json:"verified"`
	Checksum         string      `json:"checksum,omitempty"`
	Mismatches       []string    `json:"mismatches,omitempty"`
	Result           *JSONObject `json:"result,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// JSONComparisonData represents a comparison result
type JSONComparisonData struct {
	Method string `json:"method"`
	*compare.Comparison
	Error string `json:"error,omitempty"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Objects prints a listing as a JSON array
func (f *JSONFormatter) Objects(w io.Writer, objects []models.RemoteObject) error {
	out := make([]JSONObject, 0, len(objects))
	for _, obj := range objects {
		out = append(out, toJSONObject(obj))
	}
	return encode(w, out)
}

// Object prints one object
func (f *JSONFormatter) Object(w io.Writer, obj models.RemoteObject) error {
	return encode(w, toJSONObject(obj))
}

// Checksum prints the checksum of path
func (f *JSONFormatter) Checksum(w io.Writer, path, sum string) error {
	return encode(w, map[string]string{"path": path, "md5": sum})
}

// Report prints a transfer report
func (f *JSONFormatter) Report(w io.Writer, report *models.TransferReport) error {
	data := JSONReportData{
		OperationID:      report.OperationID,
		Action:           string(report.Action),
		Status:           string(report.Status),
		Source:           report.Source,
		Dest:             report.Dest,
		Duration:         report.Duration.Round(time.Millisecond).String(),
		DurationMs:       report.Duration.Milliseconds(),
		FilesTransferred: report.FilesTransferred,
		FilesExcluded:    report.FilesExcluded,
		FilesSkipped:     report.FilesSkipped,
		BytesTransferred: report.BytesTransferred,
		Verified:         report.Verified,
		Checksum:         report.Checksum,
		Mismatches:       report.Mismatches,
		Error:            report.Error,
	}
	if secs := report.Duration.Seconds(); secs > 0 {
		data.AverageSpeed = int64(float64(report.BytesTransferred) / secs)
	}
	if report.Result != nil {
		obj := toJSONObject(*report.Result)
		data.Result = &obj
	}
	return encode(w, data)
}

// Comparison prints a comparison result
func (f *JSONFormatter) Comparison(w io.Writer, method string, result *compare.Comparison) error {
	data := JSONComparisonData{Method: method, Comparison: result}
	if result.Error != nil {
		data.Error = result.Error.Error()
	}
	return encode(w, data)
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}

func toJSONObject(obj models.RemoteObject) JSONObject {
	out := JSONObject{
		Path:      obj.Path,
		Name:      obj.Basename(),
		Kind:      string(obj.Kind),
		Reference: obj.Reference,
		Owner:     obj.Owner,
		Group:     obj.Group,
		Details:   obj.Details,
	}
	if obj.HasLength() {
		n := obj.Length
		out.Size = &n
	}
	if obj.Permission.IsSet() {
		out.Permission = obj.Permission.String()
	}
	if !obj.ModificationTime.IsZero() {
		out.ModificationTime = obj.ModificationTime.Format(time.RFC3339)
	}
	if !obj.AccessTime.IsZero() {
		out.AccessTime = obj.AccessTime.Format(time.RFC3339)
	}
	return out
}

func encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
