// Package ftp implements the server side of the FTP control and data
// protocols: command parsing, dispatch, data channel negotiation, transfer
// execution, and the per-connection session loop.
package ftp

import (
	"fmt"
	"strings"
)

// Reply is a complete control-channel response. Single-line replies render
// as "<code> <text>\r\n"; multi-line replies use the dash continuation form
// with the code repeated on the closing line.
type Reply struct {
	Code  int
	Lines []string
}

// NewReply builds a single-line reply.
func NewReply(code int, format string, args ...any) Reply {
	return Reply{Code: code, Lines: []string{fmt.Sprintf(format, args...)}}
}

// NewMultiReply builds a multi-line reply. The first and last entries become
// the opening and closing lines.
func NewMultiReply(code int, lines ...string) Reply {
	return Reply{Code: code, Lines: lines}
}

// String renders the reply in wire format, CRLF terminators included.
func (r Reply) String() string {
	if len(r.Lines) == 0 {
		return fmt.Sprintf("%d \r\n", r.Code)
	}
	if len(r.Lines) == 1 {
		return fmt.Sprintf("%d %s\r\n", r.Code, r.Lines[0])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d-%s\r\n", r.Code, r.Lines[0])
	for _, line := range r.Lines[1 : len(r.Lines)-1] {
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "%d %s\r\n", r.Code, r.Lines[len(r.Lines)-1])
	return b.String()
}

// Reply codes used by the server. Names follow the RFC 959 meanings.
const (
	CodeDataOpen         = 150
	CodeOK               = 200
	CodeSystemStatus     = 211
	CodeFileStatus       = 213
	CodeHelp             = 214
	CodeSystem           = 215
	CodeReady            = 220
	CodeClosing          = 221
	CodeTransferComplete = 226
	CodePassiveMode      = 227
	CodeLoggedIn         = 230
	CodeFileActionOK     = 250
	CodePathCreated      = 257
	CodeNeedPassword     = 331
	CodePendingInfo      = 350
	CodeServiceNotAvail  = 421
	CodeTransferAborted  = 426
	CodeLocalError       = 451
	CodeSyntaxError      = 500
	CodeParamError       = 501
	CodeNotImplemented   = 502
	CodeBadSequence      = 503
	CodeNotLoggedIn      = 530
	CodeActionNotTaken   = 550
)
