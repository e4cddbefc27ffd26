package shared

import "errors"

// ErrNotInitialised indicates a nil recorder or store was used.
var ErrNotInitialised = errors.New("shared: recorder not initialised")
