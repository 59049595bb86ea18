package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Connection and RPC error codes
const (
	CodeTransportError     Code = "TRANSPORT_ERROR"
	CodeRPCTimeout         Code = "RPC_TIMEOUT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRPCError           Code = "RPC_ERROR"
	CodeConnectionFailed   Code = "CONNECTION_FAILED"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
)

// Chain registry error codes
const (
	CodeChainNotConfigured      Code = "CHAIN_NOT_CONFIGURED"
	CodeRelayChainNotConfigured Code = "RELAY_CHAIN_NOT_CONFIGURED"
)

// Block resolution error codes
const (
	CodeBlockNotFound  Code = "BLOCK_NOT_FOUND"
	CodeInvalidBlockID Code = "INVALID_BLOCK_ID"
)

// Metadata and storage error codes
const (
	CodePalletNotFound      Code = "PALLET_NOT_FOUND"
	CodeStorageItemNotFound Code = "STORAGE_ITEM_NOT_FOUND"
	CodeConstantNotFound    Code = "CONSTANT_NOT_FOUND"
	CodeMetadataDecodeError Code = "METADATA_DECODE_ERROR"
	CodeUnknownType         Code = "UNKNOWN_TYPE"
	CodeValueDecodeError    Code = "VALUE_DECODE_ERROR"
	CodeInvalidStorageKey   Code = "INVALID_STORAGE_KEY"
)
