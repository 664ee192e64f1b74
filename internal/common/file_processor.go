package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/utils"
)

// FileProcessor handles common file operations
type FileProcessor struct {
	logger *errors.Logger
}

// NewFileProcessor creates a new file processor instance
func NewFileProcessor(logger *errors.Logger) *FileProcessor {
	return &FileProcessor{logger: logger}
}

// ReadFile reads content from a file, refusing anything larger than
// maxSize bytes when maxSize is positive
func (fp *FileProcessor) ReadFile(filename string, maxSize int64) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewIOError(errors.ErrCodeFileNotFound,
				fmt.Sprintf("File not found: %s", filename), err)
		}
		return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
			fmt.Sprintf("Cannot read file: %s", filename), err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			fp.logger.Warn("Failed to close file", "filename", filename, "error", err)
		}
	}()

	var r io.Reader = file
	if maxSize > 0 {
		r = io.LimitReader(file, maxSize+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
			fmt.Sprintf("Failed to read file content: %s", filename), err)
	}
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, errors.NewValidationError("FILE_TOO_LARGE",
			fmt.Sprintf("%s exceeds the %s upload limit", filename, utils.FormatFileSize(maxSize)), nil)
	}

	return content, nil
}

// ReadUpload validates a resume file and loads it for a multipart upload
func (fp *FileProcessor) ReadUpload(filename string, maxSize int64) (types.UploadFile, error) {
	if err := utils.ValidateInputFile(filename); err != nil {
		return types.UploadFile{}, errors.NewValidationError("INVALID_INPUT_FILE",
			fmt.Sprintf("Invalid file %s", filename), err)
	}

	if !utils.IsResumeFile(filename) {
		fp.logger.Warn("File may not be a resume document the backend can parse",
			"filename", filename)
	}

	data, err := fp.ReadFile(filename, maxSize)
	if err != nil {
		return types.UploadFile{}, err
	}

	fp.logger.Debug("Loaded upload", "filename", filename, "size", utils.FormatFileSize(int64(len(data))))
	return types.UploadFile{Name: filepath.Base(filename), Data: data}, nil
}

// WriteFile writes content to a file with directory creation
func (fp *FileProcessor) WriteFile(filename string, content []byte) error {
	dir := filepath.Dir(filename)
	if dir != "." {
		err := os.MkdirAll(dir, 0750)
		if err != nil {
			return errors.NewIOError("DIRECTORY_CREATE_FAILED",
				fmt.Sprintf("Cannot create directory: %s", dir), err)
		}
	}

	err := os.WriteFile(filename, content, 0600)
	if err != nil {
		return errors.NewIOError("FILE_WRITE_FAILED",
			fmt.Sprintf("Cannot write file: %s", filename), err)
	}

	return nil
}

// ValidateOutputFile validates output file path
func (fp *FileProcessor) ValidateOutputFile(filename string) error {
	if filename == "" {
		return nil // stdout is valid
	}

	if err := utils.ValidateOutputFile(filename); err != nil {
		return errors.NewValidationError("INVALID_OUTPUT_FILE",
			fmt.Sprintf("Invalid output file: %s", filename), err)
	}

	return nil
}
