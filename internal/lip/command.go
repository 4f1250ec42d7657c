package lip

import (
	"fmt"
	"strconv"
	"strings"
)

// Operation identifies the LIP command family a line belongs to.
//
// The set below is the RadioRa2-derived subset spoken by Caséta and
// RA2 Select bridges. Lines carrying an operation outside this set are
// not rejected: they decode to OpRaw events so newer firmware commands
// pass through uninterpreted.
type Operation string

// Known LIP operations.
const (
	OpOutput     Operation = "OUTPUT"
	OpDevice     Operation = "DEVICE"
	OpSystem     Operation = "SYSTEM"
	OpGroup      Operation = "GROUP"
	OpArea       Operation = "AREA"
	OpShadeGroup Operation = "SHADEGRP"
	OpTimeclock  Operation = "TIMECLOCK"
	OpMonitoring Operation = "MONITORING"

	// OpError carries controller error reports (~ERROR,<code>).
	OpError Operation = "ERROR"

	// OpRaw is the synthetic operation assigned to feedback lines whose
	// operation token is not recognised. The untouched token sequence is
	// preserved in the event parameters.
	OpRaw Operation = "RAW"
)

// knownOperations is the decode table for inbound feedback lines.
var knownOperations = map[Operation]bool{
	OpOutput:     true,
	OpDevice:     true,
	OpSystem:     true,
	OpGroup:      true,
	OpArea:       true,
	OpShadeGroup: true,
	OpTimeclock:  true,
	OpMonitoring: true,
}

// Mode is the command sigil: execute (#) or query (?).
type Mode byte

// Command modes.
const (
	ModeExecute Mode = '#'
	ModeQuery   Mode = '?'
)

// Action numbers for OUTPUT commands.
const (
	ActionZoneLevel     = 1 // get or set zone level
	ActionStartRaising  = 2
	ActionStartLowering = 3
	ActionStopRaiseLow  = 4
)

// Component actions for DEVICE commands.
const (
	ActionButtonPress   = 3
	ActionButtonRelease = 4
)

// Param is a single outbound command parameter. Parameters are ordered
// and either numeric (rendered with protocol-mandated precision) or
// textual (passed through verbatim).
type Param struct {
	text string
}

// Number builds a numeric parameter rendered with two decimal places,
// the precision LIP mandates for dimmer levels ("75.00").
func Number(v float64) Param {
	return Param{text: strconv.FormatFloat(v, 'f', 2, 64)}
}

// Integer builds a whole-number parameter (fade times, component
// numbers) rendered without a fractional part.
func Integer(v int) Param {
	return Param{text: strconv.Itoa(v)}
}

// String builds a textual parameter passed through verbatim.
func String(s string) Param {
	return Param{text: s}
}

// Command is a structured outbound LIP command.
//
// Invariant: query-mode commands carry no value parameters beyond the
// (operation, integration ID, action) triple that identifies the query.
type Command struct {
	Operation     Operation
	Mode          Mode
	IntegrationID int
	Action        int
	Params        []Param
}

// NewExecute builds an execute-mode command (#OP,id,action[,params...]).
func NewExecute(op Operation, integrationID, action int, params ...Param) Command {
	return Command{
		Operation:     op,
		Mode:          ModeExecute,
		IntegrationID: integrationID,
		Action:        action,
		Params:        params,
	}
}

// NewQuery builds a query-mode command (?OP,id,action).
func NewQuery(op Operation, integrationID, action int) Command {
	return Command{
		Operation:     op,
		Mode:          ModeQuery,
		IntegrationID: integrationID,
		Action:        action,
	}
}

// Value is a single inbound event parameter. The wire format is
// untyped text; numeric-looking tokens are parsed eagerly so callers
// can ask for either representation.
type Value struct {
	raw   string
	num   float64
	isNum bool
}

// parseValue classifies a wire token.
func parseValue(tok string) Value {
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return Value{raw: tok, num: f, isNum: true}
	}
	return Value{raw: tok}
}

// String returns the untouched wire token.
func (v Value) String() string { return v.raw }

// Float returns the numeric value and whether the token was numeric.
func (v Value) Float() (float64, bool) { return v.num, v.isNum }

// Int returns the value as an integer and whether the token was a
// whole number.
func (v Value) Int() (int, bool) {
	if !v.isNum || v.num != float64(int(v.num)) {
		return 0, false
	}
	return int(v.num), true
}

// Event is a decoded inbound feedback line (~OP,id,action[,params...]).
//
// Unsolicited feedback and query replies are wire-identical; the
// protocol carries no correlation token. The dispatcher distinguishes
// them purely by key matching, so the same type represents both.
type Event struct {
	Operation     Operation
	IntegrationID int
	Action        int
	Params        []Value

	// Raw is the original line as received, kept for RAW pass-through
	// and diagnostics.
	Raw string
}

// Level returns the first parameter as a float, the common shape of
// OUTPUT level feedback. ok is false when there is no numeric first
// parameter.
func (e Event) Level() (float64, bool) {
	if len(e.Params) == 0 {
		return 0, false
	}
	return e.Params[0].Float()
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	parts := make([]string, 0, len(e.Params))
	for _, p := range e.Params {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("Event{%s,%d,%d,[%s]}",
		e.Operation, e.IntegrationID, e.Action, strings.Join(parts, " "))
}
