package rpc

import (
	"errors"

	"stabled/native/collateral"
	"stabled/native/oracle"
	"stabled/native/token"
)

// sentinelName maps a module failure to the stable identifier callers match
// on. The identifier travels in the error envelope's data field so clients
// never parse message text.
func sentinelName(err error) string {
	switch {
	case errors.Is(err, collateral.ErrInvalidConfiguration):
		return "InvalidConfiguration"
	case errors.Is(err, collateral.ErrNeedsMoreThanZero):
		return "NeedsMoreThanZero"
	case errors.Is(err, collateral.ErrNotAllowedToken):
		return "NotAllowedToken"
	case errors.Is(err, collateral.ErrMintFailed):
		return "MintFailed"
	case errors.Is(err, collateral.ErrTransferFailed):
		return "TransferFailed"
	case errors.Is(err, collateral.ErrBreaksHealthFactor):
		return "BreaksHealthFactor"
	case errors.Is(err, collateral.ErrHealthFactorOk):
		return "HealthFactorOk"
	case errors.Is(err, collateral.ErrHealthFactorNotImproved):
		return "HealthFactorNotImproved"
	case errors.Is(err, collateral.ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, token.ErrInsufficientAllowance):
		return "InsufficientAllowance"
	case errors.Is(err, token.ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, token.ErrUnknownToken):
		return "NotAllowedToken"
	case errors.Is(err, oracle.ErrStaleQuote),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrQuoteNotFound),
		errors.Is(err, oracle.ErrUnknownAsset),
		errors.Is(err, oracle.ErrFeedNotFound):
		return "PriceUnavailable"
	default:
		return ""
	}
}

// moduleError converts an engine, token, or oracle failure into the JSON-RPC
// error envelope. Recognised sentinels travel as -32010 with the identifier
// in data; anything else is an internal error.
func moduleError(err error) *Error {
	if err == nil {
		return nil
	}
	if name := sentinelName(err); name != "" {
		return &Error{Code: codeModuleError, Message: err.Error(), Data: name}
	}
	return &Error{Code: codeServerError, Message: err.Error()}
}
