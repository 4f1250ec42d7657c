package lip

import (
	"fmt"
	"strconv"
	"strings"
)

// Handshake markers sent by the controller's Telnet front end. Prompts
// are not line-terminated, so the session matches them on the raw byte
// stream during login; the codec also recognises them so stray prompt
// lines in the ready state are classified instead of rejected.
const (
	LoginPrompt    = "login: "
	PasswordPrompt = "password: "

	// DefaultPrompt is the post-login ready marker on RadioRa2/Caséta
	// firmware. HomeWorks QS controllers use "QNET> ".
	DefaultPrompt = "GNET> "

	// AltPrompt is the HomeWorks QS variant of the ready prompt.
	AltPrompt = "QNET> "
)

const feedbackSigil = '~'

// LineKind classifies a received line.
type LineKind int

// Line classifications returned by DecodeLine.
const (
	// KindEvent is a decoded LIP feedback/reply frame.
	KindEvent LineKind = iota

	// KindPrompt is a login, password, or ready prompt.
	KindPrompt

	// KindIgnored is a blank or otherwise uninteresting non-LIP line.
	KindIgnored
)

// PromptKind identifies which handshake marker a prompt line carries.
type PromptKind int

// Prompt classifications.
const (
	PromptLogin PromptKind = iota
	PromptPassword
	PromptReady
)

// Decoded is the result of classifying one received line.
type Decoded struct {
	Kind   LineKind
	Event  Event      // valid when Kind == KindEvent
	Prompt PromptKind // valid when Kind == KindPrompt
}

// EncodeCommand renders a structured command as a wire-format line.
//
// Execute commands render as #OP,id,action[,param...]; queries as
// ?OP,id,action. Fields are comma-separated with no embedded
// whitespace. Line termination (CRLF) is the transport's job.
//
// Returns ErrInvalidCommand when the operation is empty, an identifier
// is non-positive, the mode is unknown, or a query carries parameters.
func EncodeCommand(cmd Command) (string, error) {
	if cmd.Operation == "" {
		return "", fmt.Errorf("%w: empty operation", ErrInvalidCommand)
	}
	if cmd.IntegrationID <= 0 {
		return "", fmt.Errorf("%w: integration id must be positive, got %d",
			ErrInvalidCommand, cmd.IntegrationID)
	}
	if cmd.Action <= 0 {
		return "", fmt.Errorf("%w: action number must be positive, got %d",
			ErrInvalidCommand, cmd.Action)
	}

	switch cmd.Mode {
	case ModeExecute:
		// Parameters allowed.
	case ModeQuery:
		if len(cmd.Params) > 0 {
			return "", fmt.Errorf("%w: query commands carry no value parameters",
				ErrInvalidCommand)
		}
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidCommand, cmd.Mode)
	}

	var b strings.Builder
	b.WriteByte(byte(cmd.Mode))
	b.WriteString(string(cmd.Operation))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(cmd.IntegrationID))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(cmd.Action))
	for _, p := range cmd.Params {
		b.WriteByte(',')
		b.WriteString(p.text)
	}
	return b.String(), nil
}

// DecodeLine classifies one CRLF-stripped line from the controller.
//
// Lines beginning with '~' decode to events. Login/password/ready
// prompts classify as KindPrompt; blank and other non-LIP chatter as
// KindIgnored. A LIP frame with an unparseable identifier field yields
// ErrMalformedLine. Callers log and discard, the session continues.
//
// A ready prompt glued to the front of a frame ("GNET> ~OUTPUT,...")
// is stripped before decoding; the controller interleaves prompts with
// feedback on the same stream.
func DecodeLine(line string) (Decoded, error) {
	trimmed := strings.TrimSpace(stripPrompt(line))

	if trimmed == "" {
		// A line that was nothing but a ready prompt is still a prompt.
		if hasReadyPrompt(line) {
			return Decoded{Kind: KindPrompt, Prompt: PromptReady}, nil
		}
		return Decoded{Kind: KindIgnored}, nil
	}

	if trimmed[0] != feedbackSigil {
		switch {
		case strings.HasSuffix(trimmed, strings.TrimSpace(LoginPrompt)):
			return Decoded{Kind: KindPrompt, Prompt: PromptLogin}, nil
		case strings.HasSuffix(trimmed, strings.TrimSpace(PasswordPrompt)):
			return Decoded{Kind: KindPrompt, Prompt: PromptPassword}, nil
		default:
			return Decoded{Kind: KindIgnored}, nil
		}
	}

	ev, err := decodeEvent(trimmed)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Kind: KindEvent, Event: ev}, nil
}

// decodeEvent parses a ~-prefixed frame.
func decodeEvent(line string) (Event, error) {
	tokens := strings.Split(line[1:], ",")
	op := Operation(tokens[0])

	// Controller error reports have the shape ~ERROR,<code> with no
	// integration ID. Surface the code as the action number.
	if op == OpError {
		code := 0
		if len(tokens) > 1 {
			n, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
			if err != nil {
				return Event{}, fmt.Errorf("%w: bad error code in %q", ErrMalformedLine, line)
			}
			code = n
		}
		return Event{Operation: OpError, Action: code, Raw: line}, nil
	}

	// Unknown operations pass through untouched rather than being
	// discarded; future protocol extensions stay visible to subscribers.
	if !knownOperations[op] {
		params := make([]Value, len(tokens))
		for i, tok := range tokens {
			params[i] = parseValue(tok)
		}
		return Event{Operation: OpRaw, Params: params, Raw: line}, nil
	}

	if len(tokens) < 3 {
		return Event{}, fmt.Errorf("%w: %q has %d fields, need at least 3",
			ErrMalformedLine, line, len(tokens))
	}

	id, err := strconv.Atoi(tokens[1])
	if err != nil || id <= 0 {
		return Event{}, fmt.Errorf("%w: bad integration id %q in %q",
			ErrMalformedLine, tokens[1], line)
	}

	// Action numbers arrive as integers but some firmware pads them
	// ("1.0"); accept any whole number.
	actionVal := parseValue(tokens[2])
	action, ok := actionVal.Int()
	if !ok || action <= 0 {
		return Event{}, fmt.Errorf("%w: bad action number %q in %q",
			ErrMalformedLine, tokens[2], line)
	}

	var params []Value
	if len(tokens) > 3 {
		params = make([]Value, len(tokens)-3)
		for i, tok := range tokens[3:] {
			params[i] = parseValue(tok)
		}
	}

	return Event{
		Operation:     op,
		IntegrationID: id,
		Action:        action,
		Params:        params,
		Raw:           line,
	}, nil
}

// stripPrompt removes any leading ready-prompt markers. The controller
// prefixes its prompt to feedback lines once a command has been echoed.
func stripPrompt(line string) string {
	for {
		switch {
		case strings.HasPrefix(line, DefaultPrompt):
			line = line[len(DefaultPrompt):]
		case strings.HasPrefix(line, AltPrompt):
			line = line[len(AltPrompt):]
		default:
			return line
		}
	}
}

// hasReadyPrompt reports whether the line contains a ready prompt.
func hasReadyPrompt(line string) bool {
	return strings.Contains(line, strings.TrimSpace(DefaultPrompt)) ||
		strings.Contains(line, strings.TrimSpace(AltPrompt))
}
