// Package credential manages device-bound public-key credentials: the
// registration and authentication ceremonies, replay detection, and the
// verification tokens handed to the login state machine.
package credential
