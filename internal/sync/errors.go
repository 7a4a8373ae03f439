// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package sync

import (
	"errors"
	"fmt"
)

// ConfigError marks a task failure caused by missing or invalid
// configuration (credential, sheet header, date column). It is fatal for
// its task and never retried.
type ConfigError struct {
	Task string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(task, format string, args ...any) error {
	return &ConfigError{Task: task, Err: fmt.Errorf(format, args...)}
}

// RunError is the aggregate outcome of a run with at least one failed
// task. It wraps the first underlying cause.
type RunError struct {
	Failed int
	Total  int
	First  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%d of %d feed task(s) failed: %v", e.Failed, e.Total, e.First)
}

func (e *RunError) Unwrap() error { return e.First }

func errorClass(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return "config"
	}
	return "sync"
}
