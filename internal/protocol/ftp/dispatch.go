package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/ftpy/ftpy/internal/logger"
	"github.com/ftpy/ftpy/internal/vfs"
)

// CredentialPolicy decides whether a username/password pair may log in.
type CredentialPolicy struct {
	// AllowEmptyPassword accepts a PASS with no argument. When false an
	// empty password is always rejected, even for users whose configured
	// password is empty.
	AllowEmptyPassword bool
	// Users maps usernames to passwords. An empty map accepts any pair,
	// which is the anonymous-style default.
	Users map[string]string
}

// Authenticate reports whether the pair is acceptable under the policy.
func (p CredentialPolicy) Authenticate(user, pass string) bool {
	if pass == "" && !p.AllowEmptyPassword {
		return false
	}
	if len(p.Users) == 0 {
		return true
	}
	want, ok := p.Users[user]
	return ok && want == pass
}

// verbSpec drives dispatch gating and the FEAT listing for one verb.
type verbSpec struct {
	// requiresAuth gates the verb behind a completed login.
	requiresAuth bool
	// feat is the line advertised under FEAT, empty when the verb is not a
	// post-RFC-959 feature.
	feat string
}

// verbTable is the single source of truth for which verbs exist, which are
// usable before login, and what FEAT advertises. Parse recognizing a verb
// that is missing here is a bug, not a runtime condition.
var verbTable = map[string]verbSpec{
	"USER": {},
	"PASS": {},
	"QUIT": {},
	"NOOP": {},
	"SYST": {},
	"FEAT": {},
	"HELP": {},
	"PWD":  {requiresAuth: true},
	"CWD":  {requiresAuth: true},
	"CDUP": {requiresAuth: true},
	"TYPE": {requiresAuth: true},
	"PASV": {requiresAuth: true},
	"PORT": {requiresAuth: true},
	"LIST": {requiresAuth: true},
	"NLST": {requiresAuth: true},
	"MLSD": {requiresAuth: true, feat: "MLSD"},
	"RETR": {requiresAuth: true},
	"STOR": {requiresAuth: true},
	"DELE": {requiresAuth: true},
	"MKD":  {requiresAuth: true},
	"RMD":  {requiresAuth: true},
	"RNFR": {requiresAuth: true},
	"RNTO": {requiresAuth: true},
	"SIZE": {requiresAuth: true, feat: "SIZE"},
	"MDTM": {requiresAuth: true, feat: "MDTM"},
	"STAT": {requiresAuth: true},
	"OPTS": {requiresAuth: true, feat: "UTF8"},
}

// featLines renders the FEAT reply body from the verb table, sorted for a
// stable wire format.
func featLines() []string {
	var feats []string
	for _, spec := range verbTable {
		if spec.feat != "" {
			feats = append(feats, spec.feat)
		}
	}
	feats = append(feats, "PASV")
	sort.Strings(feats)

	lines := make([]string, 0, len(feats)+2)
	lines = append(lines, "Features:")
	lines = append(lines, feats...)
	lines = append(lines, "End")
	return lines
}

// helpVerbs renders the HELP body from the verb table.
func helpVerbs() string {
	verbs := make([]string, 0, len(verbTable))
	for v := range verbTable {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return strings.Join(verbs, " ")
}

// handle dispatches one parsed command. It returns true when the session
// should end. The type switch is exhaustive over the parser's closed set;
// gating (501, 502, 530, 503) happens here so individual handlers only see
// commands they are allowed to execute.
func (s *Session) handle(ctx context.Context, cmd Command) bool {
	switch c := cmd.(type) {
	case MalformedCmd:
		switch {
		case c.RawVerb == "":
			s.reply(NewReply(CodeSyntaxError, "Syntax error, command unrecognized."))
		case c.Reason != "":
			s.reply(NewReply(CodeParamError, "Syntax error: %s.", c.Reason))
		default:
			s.reply(NewReply(CodeParamError, "Syntax error in parameters or arguments."))
		}
		return false
	case UnknownCmd:
		s.reply(NewReply(CodeNotImplemented, "Command not implemented."))
		return false
	case QuitCmd:
		s.reply(NewReply(CodeClosing, "Goodbye."))
		return true
	}

	spec, ok := verbTable[cmd.Verb()]
	if !ok {
		s.reply(NewReply(CodeNotImplemented, "Command not implemented."))
		return false
	}
	if spec.requiresAuth && !s.authenticated {
		s.reply(NewReply(CodeNotLoggedIn, "Please login with USER and PASS."))
		return false
	}

	switch c := cmd.(type) {
	case UserCmd:
		s.handleUser(c)
	case PassCmd:
		s.handlePass(c)
	case NoopCmd:
		s.reply(NewReply(CodeOK, "NOOP ok."))
	case SystCmd:
		s.reply(NewReply(CodeSystem, "UNIX Type: L8"))
	case FeatCmd:
		s.reply(NewMultiReply(CodeSystemStatus, featLines()...))
	case HelpCmd:
		s.reply(NewMultiReply(CodeHelp, "The following commands are recognized.", helpVerbs(), "Help OK."))
	case PwdCmd:
		s.reply(NewReply(CodePathCreated, "%q is the current directory.", s.cwd))
	case CwdCmd:
		s.handleCwd(c.Path)
	case CdupCmd:
		s.handleCwd("..")
	case TypeCmd:
		s.transferType = c.Type
		s.reply(NewReply(CodeOK, "Type set to %s.", c.Type))
	case PasvCmd:
		s.handlePasv()
	case PortCmd:
		s.reply(s.negotiator.Active(c.IP, c.Port))
	case ListCmd:
		s.handleList(ctx, c.Path, s.executor.SendList)
	case NlstCmd:
		s.handleList(ctx, c.Path, s.executor.SendNameList)
	case MlsdCmd:
		s.handleMlsd(ctx, c.Path)
	case RetrCmd:
		s.handleRetr(ctx, c.Path)
	case StorCmd:
		s.handleStor(ctx, c.Path)
	case DeleCmd:
		s.handleDele(c.Path)
	case MkdCmd:
		s.handleMkd(c.Path)
	case RmdCmd:
		s.handleRmd(c.Path)
	case RnfrCmd:
		s.handleRnfr(c.Path)
	case RntoCmd:
		s.handleRnto(c.Path)
	case SizeCmd:
		s.handleSize(c.Path)
	case MdtmCmd:
		s.handleMdtm(c.Path)
	case StatCmd:
		s.handleStat(c.Path)
	case OptsCmd:
		s.handleOpts(c)
	default:
		s.reply(NewReply(CodeNotImplemented, "Command not implemented."))
	}
	return false
}

func (s *Session) handleUser(c UserCmd) {
	// USER restarts the login exchange even when already authenticated.
	s.pendingUser = c.Name
	s.authenticated = false
	s.user = ""
	s.reply(NewReply(CodeNeedPassword, "Password required for %s.", c.Name))
}

func (s *Session) handlePass(c PassCmd) {
	if s.pendingUser == "" {
		s.reply(NewReply(CodeBadSequence, "Login with USER first."))
		return
	}

	if !s.credentials.Authenticate(s.pendingUser, c.Password) {
		s.metrics.RecordAuthAttempt("failure")
		logger.WarnCtx(s.logCtx, "login rejected", logger.KeyUser, s.pendingUser)
		// The pending user survives a rejection so the client can retry
		// PASS without repeating USER.
		s.reply(NewReply(CodeNotLoggedIn, "Login incorrect."))
		return
	}

	s.user = s.pendingUser
	s.pendingUser = ""
	s.authenticated = true
	s.metrics.RecordAuthAttempt("success")
	logger.InfoCtx(s.logCtx, "login accepted", logger.KeyUser, s.user)
	s.reply(NewReply(CodeLoggedIn, "User %s logged in.", s.user))
}

func (s *Session) handleCwd(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	if !info.IsDir() {
		s.reply(errorReply(fmt.Errorf("cwd %q: %w", target, vfs.ErrNotDir)))
		return
	}

	s.cwd = target
	s.reply(NewReply(CodeFileActionOK, "Directory changed to %s.", target))
}

func (s *Session) handlePasv() {
	reply, err := s.negotiator.Passive(s.conn.LocalAddr())
	if err != nil {
		logger.ErrorCtx(s.logCtx, "passive mode failed", logger.KeyError, err)
		s.reply(NewReply(CodeServiceNotAvail, "Cannot open passive connection."))
		return
	}
	s.reply(reply)
}

// resolveArg resolves a possibly-empty path argument, defaulting to the
// working directory.
func (s *Session) resolveArg(arg string) (string, error) {
	if arg == "" {
		return s.cwd, nil
	}
	return s.fs.Resolve(s.cwd, arg)
}

func (s *Session) handleList(ctx context.Context, arg string, send func(context.Context, io.Writer, string) error) {
	target, err := s.resolveArg(arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	if _, err := s.fs.Stat(target); err != nil {
		s.reply(errorReply(err))
		return
	}

	s.runTransfer(ctx, "outbound", func(ctx context.Context, conn net.Conn) (int64, error) {
		return 0, send(ctx, conn, target)
	})
}

func (s *Session) handleMlsd(ctx context.Context, arg string) {
	target, err := s.resolveArg(arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	if !info.IsDir() {
		s.reply(errorReply(fmt.Errorf("mlsd %q: %w", target, vfs.ErrNotDir)))
		return
	}

	s.runTransfer(ctx, "outbound", func(ctx context.Context, conn net.Conn) (int64, error) {
		return 0, s.executor.SendMlsd(ctx, conn, target)
	})
}

func (s *Session) handleRetr(ctx context.Context, arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	if info.IsDir() {
		s.reply(errorReply(fmt.Errorf("retr %q: %w", target, vfs.ErrIsDir)))
		return
	}

	s.runTransfer(ctx, "outbound", func(ctx context.Context, conn net.Conn) (int64, error) {
		return s.executor.Retrieve(ctx, conn, target, s.transferType)
	})
}

func (s *Session) handleStor(ctx context.Context, arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	if s.fs.IsDir(target) {
		s.reply(errorReply(fmt.Errorf("stor %q: %w", target, vfs.ErrIsDir)))
		return
	}

	s.runTransfer(ctx, "inbound", func(ctx context.Context, conn net.Conn) (int64, error) {
		return s.executor.Store(ctx, conn, target, s.transferType)
	})
}

// runTransfer is the shared envelope for every data-channel command:
// establish the negotiated connection first, announce 150 only once it
// exists, stream, then close the data connection before the final reply so
// the client sees EOF before 226.
func (s *Session) runTransfer(ctx context.Context, direction string, fn func(context.Context, net.Conn) (int64, error)) {
	ch, err := s.negotiator.Take()
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	conn, err := ch.Establish(ctx)
	if err != nil {
		logger.WarnCtx(s.logCtx, "data channel failed", logger.KeyError, err)
		s.reply(errorReply(err))
		return
	}

	s.reply(NewReply(CodeDataOpen, "Opening data connection."))

	n, err := fn(ctx, conn)
	closeErr := conn.Close()

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.reply(NewReply(CodeTransferAborted, "Transfer aborted."))
	case err != nil:
		logger.ErrorCtx(s.logCtx, "transfer failed", logger.KeyError, err, logger.KeyBytes, n)
		s.reply(NewReply(CodeLocalError, "Requested action aborted: local error in processing."))
	case closeErr != nil:
		logger.WarnCtx(s.logCtx, "data connection close failed", logger.KeyError, closeErr)
		s.reply(NewReply(CodeTransferComplete, "Transfer complete."))
	default:
		s.metrics.RecordTransfer(direction, n)
		logger.InfoCtx(s.logCtx, "transfer complete", logger.KeyBytes, n)
		s.reply(NewReply(CodeTransferComplete, "Transfer complete."))
	}
}

func (s *Session) handleDele(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err == nil {
		err = s.fs.Remove(target)
	}
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	s.reply(NewReply(CodeFileActionOK, "File deleted."))
}

func (s *Session) handleMkd(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err == nil {
		err = s.fs.Mkdir(target)
	}
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	s.reply(NewReply(CodePathCreated, "%q created.", target))
}

func (s *Session) handleRmd(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err == nil {
		err = s.fs.RemoveDir(target)
	}
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	s.reply(NewReply(CodeFileActionOK, "Directory removed."))
}

func (s *Session) handleRnfr(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err == nil {
		_, err = s.fs.Stat(target)
	}
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	s.renameFrom = target
	s.reply(NewReply(CodePendingInfo, "Ready for RNTO."))
}

func (s *Session) handleRnto(arg string) {
	if s.renameFrom == "" {
		s.reply(NewReply(CodeBadSequence, "RNFR required first."))
		return
	}
	from := s.renameFrom
	s.renameFrom = ""

	target, err := s.fs.Resolve(s.cwd, arg)
	if err == nil {
		err = s.fs.Rename(from, target)
	}
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	s.reply(NewReply(CodeFileActionOK, "Rename successful."))
}

func (s *Session) handleSize(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	if info.IsDir() {
		s.reply(errorReply(fmt.Errorf("size %q: %w", target, vfs.ErrIsDir)))
		return
	}
	s.reply(NewReply(CodeFileStatus, "%d", info.Size()))
}

func (s *Session) handleMdtm(arg string) {
	target, err := s.fs.Resolve(s.cwd, arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		s.reply(errorReply(err))
		return
	}
	s.reply(NewReply(CodeFileStatus, "%s", FormatMdtm(info.ModTime())))
}

// handleStat answers server status without an argument and an inline
// listing (over the control channel, no data connection) with one.
func (s *Session) handleStat(arg string) {
	if arg == "" {
		s.reply(NewMultiReply(CodeSystemStatus,
			"FTP server status:",
			fmt.Sprintf("Logged in as %s", s.user),
			fmt.Sprintf("TYPE: %s", s.transferType),
			"End of status"))
		return
	}

	target, err := s.fs.Resolve(s.cwd, arg)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	info, err := s.fs.Stat(target)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	lines := []string{fmt.Sprintf("Status of %s:", target)}
	if info.IsDir() {
		entries, err := s.fs.List(target)
		if err != nil {
			s.reply(errorReply(err))
			return
		}
		for _, e := range entries {
			lines = append(lines, FormatListLine(e))
		}
	} else {
		lines = append(lines, FormatListLine(info))
	}
	lines = append(lines, "End of status")
	s.reply(NewMultiReply(CodeFileStatus, lines...))
}

func (s *Session) handleOpts(c OptsCmd) {
	if c.Name == "UTF8" && (c.Value == "ON" || c.Value == "") {
		s.reply(NewReply(CodeOK, "UTF8 mode enabled."))
		return
	}
	s.reply(NewReply(CodeParamError, "Option not supported."))
}
