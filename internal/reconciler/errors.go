package reconciler

import "errors"

// ErrNonContiguousHistory is wrapped into the error fillVersionGap
// returns when the server's operation history has a missing version
// between the cache's current version and an inbound chunk message's
// version, making correct gap-fill impossible.
var ErrNonContiguousHistory = errors.New("reconciler: non-contiguous operation history")

// ErrUnrecognizedConflictPolicy is wrapped into the error
// reconcileRemoteText returns when the workspace's configured
// conflict-resolution policy matches none of ConflictRemote/
// ConflictLocal/ConflictMerge.
var ErrUnrecognizedConflictPolicy = errors.New("reconciler: unrecognized conflict resolution policy")
