// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package nwberr holds the error taxonomy shared by every layer of lakenwb.
//
// Callers classify failures with errors.Is against the sentinels below.
// Per-source failures are wrapped in a *SourceError so the failing file and
// internal path travel with the cause.
package nwberr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrSourceUnavailable marks an open or read failure of one source.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaConflict marks a column whose inferred types cannot be merged.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrColumnMissing marks a required column absent from a source.
	ErrColumnMissing = errors.New("column missing")

	// ErrShapeMismatch marks a multi-dimensional column whose trailing shape differs.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrReferenceResolution marks an object reference whose target could not be found.
	ErrReferenceResolution = errors.New("reference resolution failed")

	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("unsupported")
)

// OnMissing selects how per-source failures are handled during collect.
type OnMissing string

const (
	Raise    OnMissing = "raise"
	Suppress OnMissing = "suppress"
)

// ParseOnMissing accepts "raise" or "suppress", case-insensitively.
func ParseOnMissing(s string) (OnMissing, error) {
	switch OnMissing(strings.ToLower(strings.TrimSpace(s))) {
	case Raise:
		return Raise, nil
	case Suppress, "":
		return Suppress, nil
	default:
		return "", fmt.Errorf("invalid on_missing value %q: want raise or suppress", s)
	}
}

// SourceError ties a failure to the source and internal path it came from.
type SourceError struct {
	Source string
	Path   string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Source, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Wrap attaches source context to err. A nil err stays nil, and an err that
// already carries a SourceError for the same source is returned unchanged.
func Wrap(source, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) && se.Source == source {
		return err
	}
	return &SourceError{Source: source, Path: path, Err: err}
}

// Unavailable wraps cause as an ErrSourceUnavailable failure for source.
func Unavailable(source string, cause error) error {
	if cause == nil {
		return &SourceError{Source: source, Err: ErrSourceUnavailable}
	}
	if errors.Is(cause, ErrSourceUnavailable) {
		return Wrap(source, "", cause)
	}
	return &SourceError{Source: source, Err: fmt.Errorf("%w: %w", ErrSourceUnavailable, cause)}
}

// ConflictError describes a global schema failure for one column.
type ConflictError struct {
	Column string
	Detail string
	Kind   error // ErrSchemaConflict or ErrShapeMismatch
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: column %q: %s", e.Kind, e.Column, e.Detail)
}

func (e *ConflictError) Unwrap() error { return e.Kind }

// IsGlobal reports whether err must abort a whole scan or collect call
// rather than a single source's contribution.
func IsGlobal(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Errors is the list of per-source failures suppressed during a collect.
type Errors []*SourceError

// Add records err, wrapping it as a SourceError for source when needed.
func (es *Errors) Add(source string, err error) {
	if err == nil {
		return
	}
	var se *SourceError
	if !errors.As(err, &se) {
		se = &SourceError{Source: source, Err: err}
	}
	*es = append(*es, se)
}

// Err folds the list into a single error, or nil when empty.
func (es Errors) Err() error {
	var result *multierror.Error
	for _, e := range es {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}

// Sources lists the failing sources in the order they were recorded.
func (es Errors) Sources() []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Source)
	}
	return out
}
