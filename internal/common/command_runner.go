package common

import (
	"context"

	"resumeunlocked/internal/errors"
)

// OperationFunc is one backend round trip whose result gets formatted
type OperationFunc[Output any] func(context.Context) (Output, error)

// RunAndOutput checks the requested format, runs op and hands its result
// to the output handler
func RunAndOutput[Output any](
	ctx context.Context,
	out *OutputHandler,
	cmdConfig CommandConfig,
	op OperationFunc[Output],
) error {
	if err := ValidateOutputFormat(cmdConfig.OutputFormat, out.GetSupportedFormats()); err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidFormat, err.Error(), err)
	}

	result, err := op(ctx)
	if err != nil {
		return err
	}

	return out.HandleOutput(result, cmdConfig)
}
