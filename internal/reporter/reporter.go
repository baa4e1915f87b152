// Package reporter renders import run summaries and collects the capped
// diagnostics produced while importing.
//
// Supported output formats:
//   - Console: aligned "label : value" lines for the operator
//   - JSON: the same summary as a single object
//   - CSV: one "counter,value" row per counter
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"crm-import-service/internal/resolver"
	"crm-import-service/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// Counter is one named total from a run.
type Counter struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value int    `json:"value"`
}

// Summary is everything an import run reports back to the operator.
type Summary struct {
	Command         string                   `json:"command"`
	DryRun          bool                     `json:"dry_run"`
	Counters        []Counter                `json:"counters"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Suppressed      int                      `json:"suppressed_warnings,omitempty"`
	// DiagnosticCodes counts the retained warnings per error code.
	DiagnosticCodes map[errors.ErrorCode]int `json:"diagnostic_codes,omitempty"`
	Unresolved      []resolver.Unresolved    `json:"unresolved,omitempty"`
	Duration        time.Duration            `json:"duration"`
}

// Add appends a counter.
func (s *Summary) Add(key, label string, value int) {
	s.Counters = append(s.Counters, Counter{Key: key, Label: label, Value: value})
}

// Value returns the counter stored under key, or 0.
func (s *Summary) Value(key string) int {
	for _, c := range s.Counters {
		if c.Key == key {
			return c.Value
		}
	}
	return 0
}

// CollectSink copies the retained and suppressed diagnostics of sink.
func (s *Summary) CollectSink(sink *BoundedSink) {
	if sink == nil {
		return
	}
	s.Warnings = append(s.Warnings, sink.Messages()...)
	s.Suppressed += sink.Suppressed()

	diagnostics := sink.Summary()
	if diagnostics.Total == 0 {
		return
	}
	if s.DiagnosticCodes == nil {
		s.DiagnosticCodes = make(map[errors.ErrorCode]int, len(diagnostics.ByCode))
	}
	for code, n := range diagnostics.ByCode {
		s.DiagnosticCodes[code] += n
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format            OutputFormat `json:"format"`
	IncludeWarnings   bool         `json:"include_warnings"`
	IncludeUnresolved bool         `json:"include_unresolved"`
	CSVDelimiter      rune         `json:"csv_delimiter"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeWarnings:   true,
		IncludeUnresolved: true,
		CSVDelimiter:      ',',
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.Format == FormatCSV && c.CSVDelimiter == 0 {
		return fmt.Errorf("csv delimiter must be set for csv output")
	}
	return nil
}

// ReportGenerator writes summaries in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes summary to writer.
func (rg *ReportGenerator) GenerateReport(summary *Summary, writer io.Writer) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(summary, writer)
	case FormatJSON:
		return rg.generateJSONReport(summary, writer)
	case FormatCSV:
		return rg.generateCSVReport(summary, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(summary *Summary, writer io.Writer) error {
	if rg.config.IncludeUnresolved && len(summary.Unresolved) > 0 {
		fmt.Fprintf(writer, "The following accounts from the CSV files were not found in the Chart of Accounts:\n")
		for _, u := range summary.Unresolved {
			if u.Suggestion != "" {
				fmt.Fprintf(writer, " - %s (closest: %s)\n", u.Name, u.Suggestion)
			} else {
				fmt.Fprintf(writer, " - %s\n", u.Name)
			}
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeWarnings && (len(summary.Warnings) > 0 || summary.Suppressed > 0) {
		fmt.Fprintf(writer, "Warnings:\n")
		for _, w := range summary.Warnings {
			fmt.Fprintf(writer, " - %s\n", w)
		}
		if summary.Suppressed > 0 {
			fmt.Fprintf(writer, " ... %d more suppressed\n", summary.Suppressed)
		}
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "Import summary\n")
	fmt.Fprintf(writer, "%s\n", strings.Repeat("-", 36))

	width := len("Dry run")
	for _, c := range summary.Counters {
		if len(c.Label) > width {
			width = len(c.Label)
		}
	}
	for _, c := range summary.Counters {
		fmt.Fprintf(writer, "%-*s : %d\n", width, c.Label, c.Value)
	}
	dry := "NO"
	if summary.DryRun {
		dry = "YES"
	}
	fmt.Fprintf(writer, "%-*s : %s\n", width, "Dry run", dry)
	return nil
}

func (rg *ReportGenerator) generateJSONReport(summary *Summary, writer io.Writer) error {
	out := *summary
	if !rg.config.IncludeWarnings {
		out.Warnings = nil
		out.Suppressed = 0
	}
	if !rg.config.IncludeUnresolved {
		out.Unresolved = nil
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func (rg *ReportGenerator) generateCSVReport(summary *Summary, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if err := csvWriter.Write([]string{"counter", "value"}); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, c := range summary.Counters {
		if err := csvWriter.Write([]string{c.Key, strconv.Itoa(c.Value)}); err != nil {
			return fmt.Errorf("failed to write counter %s: %w", c.Key, err)
		}
	}
	if err := csvWriter.Write([]string{"dry_run", strconv.FormatBool(summary.DryRun)}); err != nil {
		return fmt.Errorf("failed to write dry run flag: %w", err)
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// GetConfiguration returns the active configuration.
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
