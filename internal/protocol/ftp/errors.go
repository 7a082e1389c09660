package ftp

import (
	"errors"

	"github.com/ftpy/ftpy/internal/vfs"
)

// errorReply maps a filesystem or negotiation error onto a control-channel
// reply. The client sees the taxonomy, never the raw OS error text.
func errorReply(err error) Reply {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return NewReply(CodeActionNotTaken, "No such file or directory.")
	case errors.Is(err, vfs.ErrPermission):
		return NewReply(CodeActionNotTaken, "Permission denied.")
	case errors.Is(err, vfs.ErrNotDir):
		return NewReply(CodeActionNotTaken, "Not a directory.")
	case errors.Is(err, vfs.ErrIsDir):
		return NewReply(CodeActionNotTaken, "Is a directory.")
	case errors.Is(err, vfs.ErrOutsideSandbox):
		return NewReply(CodeActionNotTaken, "No such file or directory.")
	case errors.Is(err, ErrNoDataChannel):
		return NewReply(CodeBadSequence, "Use PASV or PORT first.")
	case errors.Is(err, ErrDataTimeout):
		return NewReply(CodeTransferAborted, "Data connection was not established.")
	default:
		return NewReply(CodeLocalError, "Requested action aborted: local error in processing.")
	}
}
