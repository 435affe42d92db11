package apiclient

import "errors"

// ErrNotFound is wrapped into the error any HTTPClient method returns
// when the server responds 404, letting callers distinguish "file was
// deleted server-side" from a transport or auth failure via errors.Is.
var ErrNotFound = errors.New("apiclient: not found")
