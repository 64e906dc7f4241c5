// ABOUTME: Asynchronous request API: runs service calls in the background and reports through a Notifier
// ABOUTME: Each request carries a caller-chosen id; completions arrive in no particular order

package smsdb

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/smsdb/internal/pager"
	"github.com/2389/smsdb/internal/store"
)

// RequestID is chosen by the caller to match completions to requests.
type RequestID int

// ErrorCode classifies a failed request for the Notifier.
type ErrorCode int

const (
	// NoError is never reported; it is the zero value.
	NoError ErrorCode = iota
	// NotFoundError means the message or list does not exist.
	NotFoundError
	// UnknownError means the store returned something inconsistent.
	UnknownError
	// InternalError covers storage failures and invalid requests.
	InternalError
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case NotFoundError:
		return "not found"
	case UnknownError:
		return "unknown error"
	case InternalError:
		return "internal error"
	}
	return "invalid error code"
}

// ErrorCodeFor maps an error from the service to the code reported to a Notifier.
func ErrorCodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return NoError
	case errors.Is(err, store.ErrNotFound):
		return NotFoundError
	case errors.Is(err, store.ErrUnexpectedState):
		return UnknownError
	}
	return InternalError
}

// Notifier receives the outcome of asynchronous requests. Calls may arrive
// on any goroutine.
type Notifier interface {
	NotifyGotMessage(id RequestID, msg *store.Message)
	NotifyGetMessageFailed(id RequestID, code ErrorCode)

	NotifyMessageDeleted(id RequestID, deleted bool)
	NotifyDeleteMessageFailed(id RequestID, code ErrorCode)

	NotifyCreateMessageList(id RequestID, list pager.ListID, first *store.Message)
	NotifyGotNextMessage(id RequestID, msg *store.Message)
	NotifyNoMessageInList(id RequestID)
	NotifyReadMessageListFailed(id RequestID, code ErrorCode)

	NotifyMarkedMessageRead(id RequestID, read bool)
	NotifyMarkMessageReadFailed(id RequestID, code ErrorCode)
}

// Requests runs service calls on background goroutines.
type Requests struct {
	svc      *Service
	notifier Notifier
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewRequests creates a request runner reporting to notifier.
func NewRequests(svc *Service, notifier Notifier) *Requests {
	return &Requests{
		svc:      svc,
		notifier: notifier,
		logger:   svc.logger.With("component", "requests"),
	}
}

func (r *Requests) run(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Requests) failed(op string, id RequestID, err error) ErrorCode {
	code := ErrorCodeFor(err)
	r.logger.Debug("request failed", "op", op, "request_id", id, "code", code, "error", err)
	return code
}

// GetMessage looks up message msgID.
func (r *Requests) GetMessage(ctx context.Context, id RequestID, msgID int64) {
	r.run(func() {
		msg, err := r.svc.GetMessage(ctx, msgID)
		if err != nil {
			r.notifier.NotifyGetMessageFailed(id, r.failed("get", id, err))
			return
		}
		r.notifier.NotifyGotMessage(id, msg)
	})
}

// DeleteMessage deletes message msgID.
func (r *Requests) DeleteMessage(ctx context.Context, id RequestID, msgID int64) {
	r.run(func() {
		deleted, err := r.svc.DeleteMessage(ctx, msgID)
		if err != nil {
			r.notifier.NotifyDeleteMessageFailed(id, r.failed("delete", id, err))
			return
		}
		r.notifier.NotifyMessageDeleted(id, deleted)
	})
}

// CreateMessageList creates a list for f.
func (r *Requests) CreateMessageList(ctx context.Context, id RequestID, f store.Filter) {
	r.run(func() {
		list, first, err := r.svc.CreateMessageList(ctx, f)
		switch {
		case errors.Is(err, pager.ErrNoMessages):
			r.notifier.NotifyNoMessageInList(id)
		case err != nil:
			r.notifier.NotifyReadMessageListFailed(id, r.failed("create list", id, err))
		default:
			r.notifier.NotifyCreateMessageList(id, list, first)
		}
	})
}

// GetNextMessageInList fetches the next message of list.
func (r *Requests) GetNextMessageInList(ctx context.Context, id RequestID, list pager.ListID) {
	r.run(func() {
		msg, err := r.svc.GetNextMessageInList(ctx, list)
		switch {
		case errors.Is(err, pager.ErrEndOfList):
			r.notifier.NotifyNoMessageInList(id)
		case err != nil:
			r.notifier.NotifyReadMessageListFailed(id, r.failed("next", id, err))
		default:
			r.notifier.NotifyGotNextMessage(id, msg)
		}
	})
}

// MarkMessageRead sets the read flag of message msgID.
func (r *Requests) MarkMessageRead(ctx context.Context, id RequestID, msgID int64, read bool) {
	r.run(func() {
		stored, err := r.svc.MarkMessageRead(ctx, msgID, read)
		if err != nil {
			r.notifier.NotifyMarkMessageReadFailed(id, r.failed("mark read", id, err))
			return
		}
		r.notifier.NotifyMarkedMessageRead(id, stored)
	})
}

// Wait blocks until every request started so far has notified.
func (r *Requests) Wait() {
	r.wg.Wait()
}
