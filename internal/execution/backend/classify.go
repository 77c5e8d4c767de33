package backend

import (
	"context"
	"errors"

	appErr "coderunner/pkg/errors"
)

// Classify folds an execution error into a Result.
func Classify(err error) Result {
	if err == nil {
		return Result{Status: StatusSuccess}
	}
	if errors.Is(err, context.Canceled) {
		return Result{Status: StatusFailed, Info: appErr.ExecutionCanceled.Message()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Status: StatusTimeout, Info: appErr.ExecutionTimeout.Message()}
	}

	e := appErr.GetError(err)
	switch {
	case e.Code == appErr.ExecutionTimeout:
		return Result{Status: StatusTimeout, Info: e.Error()}
	case e.Code == appErr.ResourceExhausted:
		return Result{Status: StatusOutOfMemory, Info: e.Error()}
	case e.Code.IsProtocol():
		return Result{Status: StatusFailed, Info: appErr.ProtocolError.Message()}
	default:
		return Result{Status: StatusFailed, Info: e.Error()}
	}
}
