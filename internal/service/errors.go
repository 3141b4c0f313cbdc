package service

import "errors"

// Federation pipeline error taxonomy. All are terminal for the current
// request; retry semantics belong to the caller.
var (
	// ErrSAMLDisabled: SSO attempted while SAML is disabled or misconfigured.
	ErrSAMLDisabled = errors.New("saml authentication is disabled")
	// ErrInvalidSignature: the assertion failed validation while signed
	// assertions are required. Logged as a security event.
	ErrInvalidSignature = errors.New("saml assertion signature rejected")
	// ErrAccountLocked: the account is in a time-boxed lockout.
	ErrAccountLocked = errors.New("account is locked")
	// ErrUserNotFound: no local account matches and auto-provisioning is off.
	ErrUserNotFound = errors.New("user not found")
	// ErrProvisioning: storage failure while creating the local account.
	ErrProvisioning = errors.New("user provisioning failed")
)
