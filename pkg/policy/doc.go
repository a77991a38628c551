// Package policy gates operator actions on the governor, such as resetting
// an escalated mode, with Rego policies evaluated by an embedded Open Policy
// Agent engine.
//
// A default module ships with the binary; deployments may replace it with
// their own modules as long as they define the same decision document.
package policy
