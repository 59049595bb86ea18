package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

// RuntimeVersion is the subset of state_getRuntimeVersion the sidecar reads.
type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	ImplName           string `json:"implName"`
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// GetRuntimeVersion reads the runtime version at block hash.
func GetRuntimeVersion(ctx context.Context, c Caller, hash string) (RuntimeVersion, error) {
	var rv RuntimeVersion
	if err := c.Call(ctx, &rv, "state_getRuntimeVersion", hash); err != nil {
		return RuntimeVersion{}, err
	}
	return rv, nil
}

// GetStorage reads the raw value under key at block hash. A missing value
// returns ok false.
func GetStorage(ctx context.Context, c Caller, key []byte, hash string) ([]byte, bool, error) {
	var out *string
	if err := c.Call(ctx, &out, "state_getStorage", hexutil.Encode(key), hash); err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	b, err := decodeHex("state_getStorage", *out)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// StateCall executes a runtime API method at block hash and returns its
// SCALE-encoded output.
func StateCall(ctx context.Context, c Caller, method string, data []byte, hash string) ([]byte, error) {
	var out string
	if err := c.Call(ctx, &out, "state_call", method, hexutil.Encode(data), hash); err != nil {
		return nil, err
	}
	return decodeHex(method, out)
}

// GetMetadata reads the default metadata blob at block hash.
func GetMetadata(ctx context.Context, c Caller, hash string) ([]byte, error) {
	var out string
	if err := c.Call(ctx, &out, "state_getMetadata", hash); err != nil {
		return nil, err
	}
	return decodeHex("state_getMetadata", out)
}

func decodeHex(method, s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, apperror.New(apperror.CodeRPCError,
			apperror.WithCause(err),
			apperror.WithMessage("malformed hex in node response"),
			apperror.WithContext(method))
	}
	return b, nil
}
