package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Backend transport & protocol errors
// 12000-12999: Execution outcome errors
// 13000-13999: Trigger & user input errors
// 14000-14999: Output sink errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Backend Errors (11000-11999) ==========

	// Transport (11000-11099)
	TransportError    ErrorCode = 11000
	ConnectionClosed  ErrorCode = 11001
	UnexpectedStatus  ErrorCode = 11002
	RequestTooLarge   ErrorCode = 11003
	ProviderError     ErrorCode = 11004
	ExecutionCanceled ErrorCode = 11005

	// Protocol (11100-11199)
	ProtocolError     ErrorCode = 11100
	MalformedResponse ErrorCode = 11101
	UnknownFrame      ErrorCode = 11102

	// Local sandbox (11200-11299)
	SandboxSetupFailed ErrorCode = 11200
	SpawnFailed        ErrorCode = 11201
	TemplateNotFound   ErrorCode = 11202

	// ========== Execution Outcome Errors (12000-12999) ==========

	ExecutionTimeout  ErrorCode = 12000
	ResourceExhausted ErrorCode = 12001

	// ========== Trigger & User Input Errors (13000-13999) ==========

	// User input (13000-13099)
	UserInputError       ErrorCode = 13000
	InvalidOptions       ErrorCode = 13001
	InvalidArguments     ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	CodeTooLarge         ErrorCode = 13004

	// Trigger lifecycle (13100-13199)
	TriggerNotFound ErrorCode = 13100
	NotRendered     ErrorCode = 13101
	UnknownStream   ErrorCode = 13102

	// ========== Output Sink Errors (14000-14999) ==========

	SinkError        ErrorCode = 14000
	OutputNotFound   ErrorCode = 14001
	AttachmentFailed ErrorCode = 14002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Backend - Transport
	TransportError:    "Could not reach the execution provider",
	ConnectionClosed:  "An unknown error occurred during execution.",
	UnexpectedStatus:  "The execution provider returned an unexpected status",
	RequestTooLarge:   "Request exceeded the maximum size, which is 65536 bytes.",
	ProviderError:     "Something went wrong inside the execution provider.",
	ExecutionCanceled: "Execution canceled",

	// Backend - Protocol
	ProtocolError:     "The execution provider sent a response that could not be understood",
	MalformedResponse: "The execution provider sent a response that could not be understood",
	UnknownFrame:      "The execution provider sent an unknown frame",

	// Backend - Local sandbox
	SandboxSetupFailed: "Failed to prepare the local sandbox",
	SpawnFailed:        "Failed to start the program",
	TemplateNotFound:   "No command template for this language",

	// Execution outcome
	ExecutionTimeout:  "Execution timed out",
	ResourceExhausted: "Execution ran out of memory",

	// Trigger - User input
	UserInputError:       "Invalid input",
	InvalidOptions:       "Invalid options",
	InvalidArguments:     "Invalid arguments",
	LanguageNotSupported: "Unknown language.",
	CodeTooLarge:         "Code is too large",

	// Trigger - Lifecycle
	TriggerNotFound: "Trigger not found",
	NotRendered:     "Output has not been rendered yet",
	UnknownStream:   "Unknown output stream",

	// Output sink
	SinkError:        "Output sink operation failed",
	OutputNotFound:   "Output not found",
	AttachmentFailed: "Failed to store attachment",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsTransport reports whether the code belongs to the transport range.
func (c ErrorCode) IsTransport() bool {
	return c >= 11000 && c < 11100
}

// IsProtocol reports whether the code belongs to the protocol range.
func (c ErrorCode) IsProtocol() bool {
	return c >= 11100 && c < 11200
}

// IsUserInput reports whether the error must be reported back to the trigger originator.
func (c ErrorCode) IsUserInput() bool {
	return c >= 13000 && c < 13100
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == TriggerNotFound, c == OutputNotFound:
		return 404
	case c == NotRendered:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c.IsUserInput(), c == UnknownStream:
		return 400
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	case c.IsTransport(), c.IsProtocol():
		return 502
	default:
		return 500
	}
}
