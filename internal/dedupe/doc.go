// Package dedupe provides a time-bounded result cache used to answer a
// retried request from its first execution. The gateway keys it by
// envelope id and params so a client that resends resources.call after a
// lost response does not trigger a second upstream call.
package dedupe
