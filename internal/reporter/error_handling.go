package reporter

import (
	"fmt"
	"io"
	"os"

	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and a console
// fallback when the requested format cannot be written.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report.format",
			config.Format,
			err,
		).WithSuggestion("use one of console, json or csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes summary, falling back to console output if the
// configured format fails.
func (srg *SafeReportGenerator) GenerateReportSafely(summary *Summary, writer io.Writer) error {
	if writer == nil {
		return errors.InternalError("report generation", fmt.Errorf("no output writer"))
	}

	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Writing import summary")

	err := srg.GenerateReport(summary, writer)
	if err == nil {
		return nil
	}
	srg.logger.WithError(err).Warn("Report generation failed, attempting fallback")

	if srg.config.Format == FormatConsole {
		return errors.InternalError("report generation", err)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return errors.InternalError("report generation", err)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)
	if ferr := fallback.GenerateReport(summary, writer); ferr != nil {
		return errors.InternalError("report fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr))
	}
	return nil
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
