package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeConfigurationError: "Configuration error",

	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Connection and RPC
	CodeTransportError:     "RPC transport failure",
	CodeRPCTimeout:         "RPC request timed out",
	CodeServiceUnavailable: "Chain connection unavailable",
	CodeRPCError:           "RPC node returned an error",
	CodeConnectionFailed:   "Failed to connect to RPC node",
	CodeCircuitOpen:        "Circuit breaker is open",
	CodeRateLimitExceeded:  "Upstream rate limit exceeded",

	// Registry
	CodeChainNotConfigured:      "Chain is not configured",
	CodeRelayChainNotConfigured: "Relay chain is not configured",

	// Blocks
	CodeBlockNotFound:  "Block not found",
	CodeInvalidBlockID: "Invalid block identifier",

	// Metadata and storage
	CodePalletNotFound:      "Pallet not found",
	CodeStorageItemNotFound: "Storage item not found",
	CodeConstantNotFound:    "Constant not found",
	CodeMetadataDecodeError: "Failed to decode runtime metadata",
	CodeUnknownType:         "Unknown type in type registry",
	CodeValueDecodeError:    "Failed to decode SCALE value",
	CodeInvalidStorageKey:   "Invalid storage key argument",
}
