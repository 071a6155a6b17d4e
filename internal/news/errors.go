package news

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAllSourcesFailed: ни один источник не ответил, цикл завершается без изменений.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrCycleInProgress: другой цикл ещё выполняется.
	ErrCycleInProgress = errors.New("cycle already in progress")
	// ErrJudgeRateLimited сопоставляется с любым *RateLimitedError.
	ErrJudgeRateLimited = errors.New("judge rate limited")
	// ErrLedgerConflict сопоставляется с любым *ConflictError.
	ErrLedgerConflict = errors.New("ledger conflict")
	// ErrQuotaExhausted: дневная квота провайдера исчерпана, повторять в этом цикле бессмысленно.
	ErrQuotaExhausted = errors.New("provider quota exhausted")
	// ErrNotFound: запись не найдена.
	ErrNotFound = errors.New("not found")
)

// FetchError: сбой одного источника.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimitedError возвращается судьёй при превышении лимитов провайдера.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

func (e *RateLimitedError) Is(target error) bool { return target == ErrJudgeRateLimited }

// MalformedResponseError: ответ модели не удалось разобрать целиком.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed judge response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ConflictError: попытка перезаписать решение по отпечатку другим решением.
type ConflictError struct {
	Fingerprint string
	Existing    Disposition
	Attempted   Disposition
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger conflict for %s: %s -> %s", e.Fingerprint, e.Existing, e.Attempted)
}

func (e *ConflictError) Is(target error) bool { return target == ErrLedgerConflict }

// PersistenceError: не удалось записать статью. Фатально только для этой статьи.
type PersistenceError struct {
	Fingerprint string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Fingerprint, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
