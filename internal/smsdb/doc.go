// Package smsdb is the SMS database service: saving sent and received
// messages for the local number, lookups, deletion, read flags and paged
// message lists.
//
// # Service
//
// Service offers blocking calls that return once their transaction commits:
//
//	svc := smsdb.New(st, broadcaster, smsdb.Options{MSISDN: "+15550100"})
//	id, err := svc.SaveReceivedMessage(ctx, "+15550123", "hi", time.Now())
//
// Every mutation is published to the events.Broadcaster, if one is given.
//
// # Requests
//
// Requests runs the same calls on background goroutines and reports each
// outcome to a Notifier under the caller's RequestID. Failures carry an
// ErrorCode: NotFoundError, UnknownError or InternalError. An empty filter
// result and the end of a list are both reported via NotifyNoMessageInList.
package smsdb
