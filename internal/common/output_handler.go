package common

import (
	"fmt"
	"io"
	"os"

	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/formatters"
	"resumeunlocked/internal/types"
)

// CommandConfig holds common configuration for commands
type CommandConfig struct {
	OutputFile   string
	OutputFormat string
}

// OutputHandler handles formatting and writing output
type OutputHandler struct {
	fileProcessor *FileProcessor
	registry      *formatters.FormatterRegistry
	stdout        io.Writer
	logger        *errors.Logger
}

// NewOutputHandler creates a new output handler
func NewOutputHandler(logger *errors.Logger) *OutputHandler {
	return &OutputHandler{
		fileProcessor: NewFileProcessor(logger),
		registry:      formatters.GlobalRegistry,
		stdout:        os.Stdout,
		logger:        logger,
	}
}

// WithWriter redirects stdout output, mostly for tests
func (oh *OutputHandler) WithWriter(w io.Writer) *OutputHandler {
	oh.stdout = w
	return oh
}

// HandleOutput formats data and writes it to the specified output
func (oh *OutputHandler) HandleOutput(data any, config CommandConfig) error {
	if err := oh.fileProcessor.ValidateOutputFile(config.OutputFile); err != nil {
		return err
	}

	output, err := oh.registry.Format(data, config.OutputFormat)
	if err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidFormat,
			fmt.Sprintf("Failed to format output as %s", config.OutputFormat), err)
	}

	if config.OutputFile != "" {
		if err := oh.fileProcessor.WriteFile(config.OutputFile, []byte(output)); err != nil {
			return err
		}
		oh.logger.Info("Output written successfully",
			"file", config.OutputFile, "format", config.OutputFormat)
		return nil
	}

	_, err = fmt.Fprint(oh.stdout, output)
	return err
}

// HandleDocument writes a binary document. Without an output file it is
// saved next to the working directory under its own name.
func (oh *OutputHandler) HandleDocument(doc *types.Document, outputFile string) (string, error) {
	if doc == nil {
		return "", errors.NewInternalError(errors.ErrCodeBackendFailed, "No document received", nil)
	}

	target := outputFile
	if target == "" {
		target = doc.Filename
	}
	if target == "" {
		target = "document" + doc.Extension()
	}

	if err := oh.fileProcessor.ValidateOutputFile(target); err != nil {
		return "", err
	}
	if err := oh.fileProcessor.WriteFile(target, doc.Data); err != nil {
		return "", err
	}

	oh.logger.Info("Document written", "file", target, "content_type", doc.ContentType)
	return target, nil
}

// GetSupportedFormats returns all supported output formats
func (oh *OutputHandler) GetSupportedFormats() []string {
	return oh.registry.GetSupportedFormats()
}
