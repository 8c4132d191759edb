package audit

import "errors"

// ErrStore is returned when the audit table cannot be read or written.
var ErrStore = errors.New("audit: store failed")
