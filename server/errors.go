package server

import "fmt"

// Error codes the simulator replies with
const (
	CodeNotLoggedIn   int64 = 1000001
	CodeBadRequest    int64 = 1000002
	CodeUnknownMethod int64 = 1000004
	CodeMissingCode   int64 = 1000010
)

// GateError makes a Handler reply with a non-zero error code
type GateError struct {
	Code    int64
	Message string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate error %d: %s", e.Code, e.Message)
}
