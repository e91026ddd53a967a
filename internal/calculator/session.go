package calculator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorDisplay is what the primary display shows after a failed evaluation.
const ErrorDisplay = "Error"

// DefaultMaxOperandLength caps how many characters a typed operand may hold.
const DefaultMaxOperandLength = 10

// ErrUnknownKey is returned by Press for keys outside the calculator keypad.
var ErrUnknownKey = errors.New("unknown key")

// State is the entry state of a calculator session.
type State int

const (
	AwaitingFirstOperand State = iota
	AwaitingNextDigit
	AwaitingOperand
)

func (s State) String() string {
	switch s {
	case AwaitingFirstOperand:
		return "awaiting_first_operand"
	case AwaitingNextDigit:
		return "awaiting_next_digit"
	case AwaitingOperand:
		return "awaiting_operand"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{AwaitingFirstOperand, AwaitingNextDigit, AwaitingOperand} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Snapshot is the externally visible part of a session.
type Snapshot struct {
	Display  string `json:"display"`
	Equation string `json:"equation"`
	State    State  `json:"state"`
	Error    bool   `json:"error"`
}

// Session is a running-total calculator driven by key presses. It is not safe
// for concurrent use; Registry serialises access per session.
type Session struct {
	display  string
	equation string
	state    State
	failed   bool

	maxOperandLength int
	history          *History
	now              func() time.Time
}

type SessionOption func(*Session)

// WithMaxOperandLength caps typed operands at n characters. Zero disables the cap.
func WithMaxOperandLength(n int) SessionOption {
	return func(s *Session) { s.maxOperandLength = n }
}

func WithHistory(h *History) SessionOption {
	return func(s *Session) { s.history = h }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		maxOperandLength: DefaultMaxOperandLength,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = NewHistory(DefaultHistoryLimit)
	}
	s.Clear()
	return s
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Display:  s.display,
		Equation: strings.TrimSpace(s.equation),
		State:    s.state,
		Error:    s.failed,
	}
}

func (s *Session) Display() string   { return s.display }
func (s *Session) Equation() string  { return s.equation }
func (s *Session) State() State      { return s.state }
func (s *Session) History() *History { return s.history }

// NormalizeKey maps keypad and keyboard spellings onto the canonical key set:
// digits, ".", "+", "-", "*", "/", "=", "C", "%" and "±".
func NormalizeKey(key string) (string, bool) {
	switch key {
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9", ".", "+", "-", "*", "/", "=", "%", "±":
		return key, true
	case "x", "X", "×":
		return "*", true
	case "÷":
		return "/", true
	case "Enter":
		return "=", true
	case "C", "c", "AC", "Escape":
		return "C", true
	case "+/-", "neg":
		return "±", true
	default:
		return "", false
	}
}

// Press applies a single key. When the key completes a calculation the new
// history entry is returned. Evaluation failures are returned as well, after
// the session has already moved to the error display.
func (s *Session) Press(key string) (*Entry, error) {
	k, ok := NormalizeKey(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	switch k {
	case ".":
		s.Decimal()
	case "=":
		return s.Equals()
	case "C":
		s.Clear()
	case "%":
		s.Percent()
	case "±":
		s.Negate()
	case "+", "-", "*", "/":
		return nil, s.Operator(k)
	default:
		s.Digit(k)
	}
	return nil, nil
}

// Digit starts a new operand or appends to the one being typed.
func (s *Session) Digit(d string) {
	if s.state != AwaitingNextDigit {
		s.startOperand(d)
		return
	}
	if s.failed {
		return
	}

	switch {
	case s.display == "0":
		s.display = d
	case s.display == "-0":
		s.display = "-" + d
	case s.atLengthCap():
		// silently dropped
	default:
		s.display += d
	}
}

// Decimal adds a decimal point to the operand, starting "0." when none is being typed.
func (s *Session) Decimal() {
	if s.state != AwaitingNextDigit {
		s.startOperand("0.")
		return
	}
	if s.failed || strings.Contains(s.display, ".") || s.atLengthCap() {
		return
	}
	s.display += "."
}

// Operator records op in the pending equation. With an operand already typed
// after a pending operator, the pending equation is evaluated first and its
// running total displayed.
func (s *Session) Operator(op string) error {
	if !IsOperator(op) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, op)
	}
	if s.failed {
		return nil
	}

	switch {
	case s.equation == "":
		s.equation = s.display + " " + op + " "
	case s.state == AwaitingOperand:
		s.equation = replaceTrailingOperator(s.equation, op)
	default:
		full := s.equation + s.display
		v, err := Evaluate(full)
		if err != nil {
			s.fail()
			return err
		}
		s.equation = full + " " + op + " "
		s.display = Format(v)
	}

	s.state = AwaitingOperand
	return nil
}

// Equals evaluates the pending equation with the current operand and appends
// the result to history. Without a pending equation it does nothing.
func (s *Session) Equals() (*Entry, error) {
	if s.failed || s.equation == "" {
		return nil, nil
	}

	equation := strings.TrimSpace(s.equation + s.display)
	v, err := Evaluate(equation)
	if err != nil {
		s.fail()
		return nil, err
	}

	entry := Entry{
		Equation:  equation,
		Result:    Format(v),
		CreatedAt: s.now().UTC(),
	}
	s.history.Append(entry)

	s.display = entry.Result
	s.equation = ""
	s.state = AwaitingOperand
	return &entry, nil
}

// Clear resets the display and pending equation. History is kept.
func (s *Session) Clear() {
	s.display = "0"
	s.equation = ""
	s.state = AwaitingFirstOperand
	s.failed = false
}

// Percent divides the displayed value by 100.
func (s *Session) Percent() {
	v, ok := s.displayValue()
	if !ok {
		return
	}
	s.display = Format(v / 100)
	s.rebasePending()
}

// Negate flips the sign of the displayed value. Zero has no sign.
func (s *Session) Negate() {
	v, ok := s.displayValue()
	if !ok || v == 0 {
		return
	}

	if s.state == AwaitingNextDigit {
		if strings.HasPrefix(s.display, "-") {
			s.display = s.display[1:]
		} else {
			s.display = "-" + s.display
		}
		return
	}
	s.display = Format(-v)
	s.rebasePending()
}

// rebasePending makes an edited running total the left operand of the
// pending operator, so the next operator or equals uses the value on display.
func (s *Session) rebasePending() {
	if s.state != AwaitingOperand || s.equation == "" {
		return
	}
	tokens := strings.Fields(s.equation)
	s.equation = s.display + " " + tokens[len(tokens)-1] + " "
}

func (s *Session) startOperand(text string) {
	s.display = text
	s.failed = false
	s.state = AwaitingNextDigit
}

func (s *Session) atLengthCap() bool {
	return s.maxOperandLength > 0 && len(s.display) >= s.maxOperandLength
}

func (s *Session) displayValue() (float64, bool) {
	if s.failed {
		return 0, false
	}
	v, err := parseOperand(s.display, 0)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *Session) fail() {
	s.display = ErrorDisplay
	s.equation = ""
	s.state = AwaitingOperand
	s.failed = true
}

func replaceTrailingOperator(equation, op string) string {
	tokens := strings.Fields(equation)
	if len(tokens) == 0 {
		return equation
	}
	tokens[len(tokens)-1] = op
	return strings.Join(tokens, " ") + " "
}

// checkpoint captures everything Press can change.
type checkpoint struct {
	display  string
	equation string
	state    State
	failed   bool
	history  []Entry
}

func (s *Session) checkpoint() checkpoint {
	return checkpoint{
		display:  s.display,
		equation: s.equation,
		state:    s.state,
		failed:   s.failed,
		history:  s.history.Entries(),
	}
}

func (s *Session) rollback(cp checkpoint) {
	s.display = cp.display
	s.equation = cp.equation
	s.state = cp.state
	s.failed = cp.failed
	s.history.restore(cp.history)
}
