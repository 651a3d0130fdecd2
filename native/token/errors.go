package token

import "errors"

var (
	// ErrUnknownToken is returned when the symbol has no registry entry.
	ErrUnknownToken = errors.New("token: not registered")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
	// ErrInvalidAddress is returned for empty principals.
	ErrInvalidAddress = errors.New("token: address must not be empty")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a pull exceeds the approval.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrNotMintAuthority is returned when the caller lacks the mint capability.
	ErrNotMintAuthority = errors.New("token: caller is not the mint authority")
	// ErrMintPaused is returned when minting is administratively halted.
	ErrMintPaused = errors.New("token: minting paused")
)
