package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrBranchNotFound      = fmt.Errorf("branch %w", ErrNotFound)
	ErrWindowNotFound      = fmt.Errorf("window %w", ErrNotFound)
	ErrCategoryNotFound    = fmt.Errorf("category %w", ErrNotFound)
	ErrTicketNotFound      = fmt.Errorf("ticket %w", ErrNotFound)
	ErrInvalidState        = errors.New("invalid ticket state")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrBrokenEventChain    = errors.New("ticket event chain broken")
	ErrPrefixCollision     = errors.New("ticket prefix already used in branch")
)
