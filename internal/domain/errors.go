package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrBudgetExhausted = errors.New("rpc budget exhausted")
	ErrLockHeld        = errors.New("lock already held")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrContextDone     = errors.New("context cancelled")
)
