// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "errors"

var (
	// ErrEmptySpec is returned when Run receives a blank specification.
	ErrEmptySpec = errors.New("specification is empty")

	// ErrInvalidConfig is returned when the controller configuration is
	// unusable, e.g. MaxAttempts < 1.
	ErrInvalidConfig = errors.New("invalid controller configuration")

	// ErrInvalidTransition is returned for a state transition the
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGeneration marks a generative-backend failure: transport
	// error, empty response, or a candidate missing the design block.
	ErrGeneration = errors.New("candidate generation failed")
)
