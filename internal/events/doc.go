// Package events fans out notifications about saved, deleted and read-changed
// messages to in-process subscribers.
package events
