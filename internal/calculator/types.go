package calculator

// EvaluateRequest is the JSON body for POST /calculator/evaluate.
type EvaluateRequest struct {
	Equation string `json:"equation" validate:"required,max=4096"`
}

// EvaluateResponse is the JSON response for POST /calculator/evaluate.
type EvaluateResponse struct {
	Equation  string  `json:"equation"`
	Result    float64 `json:"result"`
	Formatted string  `json:"formatted"`
}

// CalcRequest is the JSON body for binary operations (add, subtract, multiply, divide).
type CalcRequest struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// CalcResponse is the JSON response for binary operations.
type CalcResponse struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	Result    float64 `json:"result"`
	Formatted string  `json:"formatted"`
}

// ChainStep describes a single step in a chained calculation.
type ChainStep struct {
	Op    string  `json:"op" validate:"required"` // "add", "subtract", "multiply", "divide" or + - * /
	Value float64 `json:"value"`                  // the operand applied with the running total
}

// ChainRequest is the JSON body for POST /calculator/chain.
type ChainRequest struct {
	Initial float64     `json:"initial"` // starting value
	Steps   []ChainStep `json:"steps" validate:"required,min=1,dive"`
}

// ChainResponse is the JSON response for POST /calculator/chain.
type ChainResponse struct {
	Initial   float64       `json:"initial"`
	Steps     []ChainResult `json:"steps"`
	Result    float64       `json:"result"`
	Formatted string        `json:"formatted"`
}

// ChainResult records one executed step.
type ChainResult struct {
	Op     string  `json:"op"`
	Value  float64 `json:"value"`
	Result float64 `json:"result"`
}

// SessionResponse describes a calculator session.
type SessionResponse struct {
	ID string `json:"id"`
	Snapshot
}

// KeysRequest is the JSON body for POST /calculator/sessions/{id}/keys.
type KeysRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=256,dive,calckey"`
}

// KeyFailure is an evaluation failure that happened while pressing keys.
type KeyFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// KeysResponse is the session state after the keys were applied.
type KeysResponse struct {
	ID string `json:"id"`
	Snapshot
	Completed []Entry      `json:"completed"`
	Failures  []KeyFailure `json:"failures,omitempty"`
}

// HistoryResponse lists a session's history, oldest first.
type HistoryResponse struct {
	ID      string  `json:"id"`
	Limit   int     `json:"limit"`
	Entries []Entry `json:"entries"`
}
