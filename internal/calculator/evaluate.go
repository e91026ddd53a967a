package calculator

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Evaluation failure kinds. Wrapped by *EvaluationError; match with errors.Is.
var (
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrOverflow        = errors.New("result overflow")
)

// EvaluationError reports which token of an equation could not be evaluated.
// Index is -1 when the failure is not tied to a position in an equation.
type EvaluationError struct {
	Err   error
	Token string
	Index int
}

func (e *EvaluationError) Error() string {
	switch {
	case e.Index < 0 && e.Token == "":
		return e.Err.Error()
	case e.Index < 0:
		return fmt.Sprintf("%v %q", e.Err, e.Token)
	case e.Token == "":
		return fmt.Sprintf("%v at token %d", e.Err, e.Index)
	default:
		return fmt.Sprintf("%v %q at token %d", e.Err, e.Token, e.Index)
	}
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Kind maps an evaluation error to the stable identifier used in API responses.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOperand):
		return "invalid_operand"
	case errors.Is(err, ErrUnknownOperator):
		return "unknown_operator"
	case errors.Is(err, ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	default:
		return ""
	}
}

// operandPattern accepts plain decimal literals only: no exponents, hex, Inf or NaN.
var operandPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

var operators = map[string]func(a, b float64) float64{
	"+": func(a, b float64) float64 { return a + b },
	"-": func(a, b float64) float64 { return a - b },
	"*": func(a, b float64) float64 { return a * b },
	"/": func(a, b float64) float64 { return a / b },
}

// IsOperator reports whether op is one of + - * /.
func IsOperator(op string) bool {
	_, ok := operators[op]
	return ok
}

// Evaluate walks a space-delimited "operand operator operand ..." equation
// strictly left to right. There is no operator precedence: "2 + 3 * 4" is 20.
func Evaluate(equation string) (float64, error) {
	tokens := strings.Fields(equation)
	if len(tokens) == 0 {
		return 0, &EvaluationError{Err: ErrInvalidOperand}
	}

	acc, err := parseOperand(tokens[0], 0)
	if err != nil {
		return 0, err
	}

	for i := 1; i < len(tokens); i += 2 {
		op := tokens[i]
		if !IsOperator(op) {
			return 0, &EvaluationError{Err: ErrUnknownOperator, Token: op, Index: i}
		}

		if i+1 >= len(tokens) {
			return 0, &EvaluationError{Err: ErrInvalidOperand, Index: i + 1}
		}

		operand, err := parseOperand(tokens[i+1], i+1)
		if err != nil {
			return 0, err
		}

		acc, err = apply(op, acc, operand)
		if err != nil {
			return 0, &EvaluationError{Err: err, Token: tokens[i+1], Index: i + 1}
		}
	}

	return normalizeZero(acc), nil
}

// Apply performs a single operator step with the same rules Evaluate uses.
func Apply(op string, a, b float64) (float64, error) {
	if !IsOperator(op) {
		return 0, &EvaluationError{Err: ErrUnknownOperator, Token: op, Index: -1}
	}
	if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
		return 0, &EvaluationError{Err: ErrInvalidOperand, Index: -1}
	}

	result, err := apply(op, a, b)
	if err != nil {
		return 0, &EvaluationError{Err: err, Token: Format(b), Index: -1}
	}
	return normalizeZero(result), nil
}

func apply(op string, a, b float64) (float64, error) {
	// The divisor is checked before dividing so the caller never sees Inf or NaN.
	if op == "/" && b == 0 {
		return 0, ErrDivisionByZero
	}

	result := operators[op](a, b)
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, ErrOverflow
	}
	return result, nil
}

func parseOperand(token string, index int) (float64, error) {
	if !operandPattern.MatchString(token) {
		return 0, &EvaluationError{Err: ErrInvalidOperand, Token: token, Index: index}
	}

	v, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, &EvaluationError{Err: ErrInvalidOperand, Token: token, Index: index}
	}
	return v, nil
}

func normalizeZero(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}
