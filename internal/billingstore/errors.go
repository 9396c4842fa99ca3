package billingstore

import "errors"

var (
	ErrPermissionNotFound  = errors.New("billingstore: permission not found")
	ErrSessionNotFound     = errors.New("billingstore: session not found")
	ErrNoActivePermission  = errors.New("billingstore: no active permission for wallet")
	ErrDuplicateCode       = errors.New("billingstore: session code already in use")
	ErrWalletAlreadyActive = errors.New("billingstore: wallet already has an active permission")
	ErrNoPermissionLink    = errors.New("billingstore: session has no linked permission")
	ErrLinkAlreadyExists   = errors.New("billingstore: session is already linked to a permission")
	ErrConcurrentUpdate    = errors.New("billingstore: row changed concurrently, retry")
)
