package ftp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TransferType is the representation type negotiated with TYPE.
type TransferType int

const (
	// TypeBinary is image mode: bytes pass through untouched.
	TypeBinary TransferType = iota
	// TypeASCII translates line endings to CRLF on the wire.
	TypeASCII
)

func (t TransferType) String() string {
	if t == TypeASCII {
		return "ASCII"
	}
	return "BINARY"
}

// Command is the closed set of parsed control-channel commands. Parse never
// returns anything outside this set: unrecognized verbs become UnknownCmd
// and recognized verbs with invalid arguments become MalformedCmd, so the
// dispatcher's type switch is exhaustive and per-command argument checks
// never leak past the parser.
type Command interface {
	// Verb returns the canonical upper-case command verb.
	Verb() string
}

type (
	// UserCmd carries the username from USER.
	UserCmd struct{ Name string }
	// PassCmd carries the password from PASS. An empty password is a valid
	// parse; acceptance is a policy decision made at dispatch.
	PassCmd struct{ Password string }
	// QuitCmd ends the session.
	QuitCmd struct{}
	// NoopCmd does nothing.
	NoopCmd struct{}
	// SystCmd asks for the system type.
	SystCmd struct{}
	// FeatCmd asks for the supported feature list.
	FeatCmd struct{}
	// PwdCmd asks for the working directory.
	PwdCmd struct{}
	// CwdCmd changes the working directory.
	CwdCmd struct{ Path string }
	// CdupCmd changes to the parent directory.
	CdupCmd struct{}
	// TypeCmd selects the transfer representation type.
	TypeCmd struct{ Type TransferType }
	// PasvCmd requests a passive-mode data channel.
	PasvCmd struct{}
	// PortCmd supplies an active-mode data address, already parsed and
	// validated from the h1,h2,h3,h4,p1,p2 form.
	PortCmd struct {
		IP   net.IP
		Port int
	}
	// ListCmd requests a long directory listing.
	ListCmd struct{ Path string }
	// NlstCmd requests a name-only directory listing.
	NlstCmd struct{ Path string }
	// MlsdCmd requests a machine-readable directory listing.
	MlsdCmd struct{ Path string }
	// RetrCmd downloads a file.
	RetrCmd struct{ Path string }
	// StorCmd uploads a file.
	StorCmd struct{ Path string }
	// DeleCmd deletes a file.
	DeleCmd struct{ Path string }
	// MkdCmd creates a directory.
	MkdCmd struct{ Path string }
	// RmdCmd removes a directory.
	RmdCmd struct{ Path string }
	// RnfrCmd names the source of a rename.
	RnfrCmd struct{ Path string }
	// RntoCmd names the destination of a rename.
	RntoCmd struct{ Path string }
	// SizeCmd asks for a file's size in bytes.
	SizeCmd struct{ Path string }
	// MdtmCmd asks for a file's modification time.
	MdtmCmd struct{ Path string }
	// StatCmd reports server or file status.
	StatCmd struct{ Path string }
	// HelpCmd lists the supported commands.
	HelpCmd struct{}
	// OptsCmd sets a per-feature option.
	OptsCmd struct{ Name, Value string }
	// UnknownCmd is any verb outside the supported set.
	UnknownCmd struct{ Raw string }
	// MalformedCmd is a recognized verb whose argument failed validation.
	// Reason is included in the 501 reply text.
	MalformedCmd struct {
		RawVerb string
		Reason  string
	}
)

func (c UserCmd) Verb() string      { return "USER" }
func (c PassCmd) Verb() string      { return "PASS" }
func (c QuitCmd) Verb() string      { return "QUIT" }
func (c NoopCmd) Verb() string      { return "NOOP" }
func (c SystCmd) Verb() string      { return "SYST" }
func (c FeatCmd) Verb() string      { return "FEAT" }
func (c PwdCmd) Verb() string       { return "PWD" }
func (c CwdCmd) Verb() string       { return "CWD" }
func (c CdupCmd) Verb() string      { return "CDUP" }
func (c TypeCmd) Verb() string      { return "TYPE" }
func (c PasvCmd) Verb() string      { return "PASV" }
func (c PortCmd) Verb() string      { return "PORT" }
func (c ListCmd) Verb() string      { return "LIST" }
func (c NlstCmd) Verb() string      { return "NLST" }
func (c MlsdCmd) Verb() string      { return "MLSD" }
func (c RetrCmd) Verb() string      { return "RETR" }
func (c StorCmd) Verb() string      { return "STOR" }
func (c DeleCmd) Verb() string      { return "DELE" }
func (c MkdCmd) Verb() string       { return "MKD" }
func (c RmdCmd) Verb() string       { return "RMD" }
func (c RnfrCmd) Verb() string      { return "RNFR" }
func (c RntoCmd) Verb() string      { return "RNTO" }
func (c SizeCmd) Verb() string      { return "SIZE" }
func (c MdtmCmd) Verb() string      { return "MDTM" }
func (c StatCmd) Verb() string      { return "STAT" }
func (c HelpCmd) Verb() string      { return "HELP" }
func (c OptsCmd) Verb() string      { return "OPTS" }
func (c UnknownCmd) Verb() string   { return c.Raw }
func (c MalformedCmd) Verb() string { return c.RawVerb }

// Parse turns a raw control-channel line (without its CRLF terminator) into
// a Command. The verb is case-insensitive; the argument keeps its case and
// may contain internal spaces.
func Parse(line string) Command {
	line = strings.TrimRight(line, "\r\n")

	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	arg = strings.TrimSpace(arg)

	switch verb {
	case "USER":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing username"}
		}
		return UserCmd{Name: arg}
	case "PASS":
		return PassCmd{Password: arg}
	case "QUIT":
		return QuitCmd{}
	case "NOOP":
		return NoopCmd{}
	case "SYST":
		return SystCmd{}
	case "FEAT":
		return FeatCmd{}
	case "PWD", "XPWD":
		return PwdCmd{}
	case "CWD":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing directory"}
		}
		return CwdCmd{Path: arg}
	case "CDUP":
		return CdupCmd{}
	case "TYPE":
		return parseType(arg)
	case "PASV":
		return PasvCmd{}
	case "PORT":
		return parsePort(arg)
	case "LIST":
		return ListCmd{Path: stripListFlags(arg)}
	case "NLST":
		return NlstCmd{Path: stripListFlags(arg)}
	case "MLSD":
		return MlsdCmd{Path: arg}
	case "RETR":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return RetrCmd{Path: arg}
	case "STOR":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return StorCmd{Path: arg}
	case "DELE":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return DeleCmd{Path: arg}
	case "MKD", "XMKD":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing directory"}
		}
		return MkdCmd{Path: arg}
	case "RMD", "XRMD":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing directory"}
		}
		return RmdCmd{Path: arg}
	case "RNFR":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return RnfrCmd{Path: arg}
	case "RNTO":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return RntoCmd{Path: arg}
	case "SIZE":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return SizeCmd{Path: arg}
	case "MDTM":
		if arg == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing file name"}
		}
		return MdtmCmd{Path: arg}
	case "STAT":
		return StatCmd{Path: arg}
	case "HELP":
		return HelpCmd{}
	case "OPTS":
		name, value, _ := strings.Cut(arg, " ")
		if name == "" {
			return MalformedCmd{RawVerb: verb, Reason: "missing option name"}
		}
		return OptsCmd{Name: strings.ToUpper(name), Value: strings.ToUpper(value)}
	case "":
		return MalformedCmd{RawVerb: "", Reason: "empty command"}
	default:
		return UnknownCmd{Raw: verb}
	}
}

func parseType(arg string) Command {
	switch strings.ToUpper(arg) {
	case "I", "L 8", "L8":
		return TypeCmd{Type: TypeBinary}
	case "A", "A N":
		return TypeCmd{Type: TypeASCII}
	default:
		return MalformedCmd{RawVerb: "TYPE", Reason: fmt.Sprintf("unsupported type %q", arg)}
	}
}

// parsePort validates the PORT argument h1,h2,h3,h4,p1,p2 where every field
// is a decimal octet. The port is p1*256+p2.
func parsePort(arg string) Command {
	malformed := MalformedCmd{RawVerb: "PORT", Reason: fmt.Sprintf("invalid address %q", arg)}

	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return malformed
	}

	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return malformed
		}
		nums[i] = n
	}

	port := nums[4]*256 + nums[5]
	if port == 0 {
		return malformed
	}

	ip := net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3]))
	return PortCmd{IP: ip, Port: port}
}

// stripListFlags drops leading "-l"-style option words some clients send
// with LIST and NLST, keeping only the path.
func stripListFlags(arg string) string {
	fields := strings.Fields(arg)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}
