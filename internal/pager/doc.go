// Package pager hands out filtered message lists one message at a time,
// keeping only the remaining keys in memory between calls.
package pager
