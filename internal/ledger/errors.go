package ledger

import "errors"

// ErrRecordNotFound is returned by mutation and lookup operations when the
// requested record id does not exist in the ledger.
var ErrRecordNotFound = errors.New("ledger record not found")
