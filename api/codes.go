// Package api exposes region operations over fixed-width handles and codes for foreign-function bindings.
package api

import (
	"context"
	"errors"

	"github.com/srediag/mmf"
)

// Result codes. Zero is success, everything else is negative so a binding
// can fold a code into the sign of a count return. Each code maps one error
// of the mmf package; CodeGeneralFailure catches whatever does not.
const (
	CodeOK                    int32 = 0
	CodeGeneralFailure        int32 = -1
	CodeInvalidName           int32 = -2
	CodeBadNamespace          int32 = -3
	CodeCapacityOutOfRange    int32 = -4
	CodeCapacityMismatch      int32 = -5
	CodeQuotaExceeded         int32 = -6
	CodeInsufficientPrivilege int32 = -7
	CodeMappingFailed         int32 = -8
	CodeNotFound              int32 = -9
	CodeTimedOut              int32 = -10
	CodeCapacityExceeded      int32 = -11
	CodeBufferTooSmall        int32 = -12
	CodeAccessFault           int32 = -13
	CodeBadHandle             int32 = -14
	CodeClosed                int32 = -15
	CodeReadonly              int32 = -16
	CodeAlreadyLocked         int32 = -17
	CodeNotLocked             int32 = -18
)

// Namespace selectors accepted by Open and Create, matching
// mmf.NamespaceLocal, mmf.NamespaceGlobal and mmf.NamespaceCustom.
const (
	NamespaceLocal  int32 = 0
	NamespaceGlobal int32 = 1
	NamespaceCustom int32 = 2
)

func toNamespace(ns int32) (mmf.Namespace, bool) {
	switch ns {
	case NamespaceLocal:
		return mmf.NamespaceLocal, true
	case NamespaceGlobal:
		return mmf.NamespaceGlobal, true
	case NamespaceCustom:
		return mmf.NamespaceCustom, true
	default:
		return 0, false
	}
}

// errorCode folds an error of the mmf package into its code. nil is CodeOK.
func errorCode(err error) int32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, mmf.ErrInvalidName):
		return CodeInvalidName
	case errors.Is(err, mmf.ErrCapacityTooSmall), errors.Is(err, mmf.ErrCapacityTooLarge):
		return CodeCapacityOutOfRange
	case errors.Is(err, mmf.ErrCapacityMismatch):
		return CodeCapacityMismatch
	case errors.Is(err, mmf.ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, mmf.ErrInsufficientPrivilege):
		return CodeInsufficientPrivilege
	case errors.Is(err, mmf.ErrMappingFailed):
		return CodeMappingFailed
	case errors.Is(err, mmf.ErrTimedOut):
		return CodeTimedOut
	case errors.Is(err, mmf.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, mmf.ErrBufferTooSmall):
		return CodeBufferTooSmall
	case errors.Is(err, mmf.ErrAccessFault):
		return CodeAccessFault
	case errors.Is(err, mmf.ErrClosed):
		return CodeClosed
	case errors.Is(err, mmf.ErrReadonly):
		return CodeReadonly
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTimedOut
	default:
		return CodeGeneralFailure
	}
}
