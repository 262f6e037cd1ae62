// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a thread-safe
// singleton validator instance with custom validators and user-friendly error
// messages. It integrates with the application's API error format for consistent
// error responses.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - Custom room_id validator for upstream room identifiers
//   - Error translation to human-readable messages
//   - APIError conversion matching the application's error format
//
// # Quick Start
//
//	type AddRoomRequest struct {
//	    RoomID string `validate:"required,room_id"`
//	}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    var req AddRoomRequest
//	    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
//	        // handle decode error
//	    }
//
//	    if verr := validation.ValidateStruct(&req); verr != nil {
//	        apiErr := verr.ToAPIError()
//	        respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
//	        return
//	    }
//
//	    // proceed with valid request
//	}
//
// # Common Validation Tags
//
// String validations:
//   - required: Field must not be empty
//   - room_id: Letters, digits, hyphen, underscore; at most 32 characters
//   - min=n / max=n: Length bounds in characters
//   - url: Valid URL format
//
// Numeric validations:
//   - gte=n / lte=n: Inclusive bounds
//   - gt=n / lt=n: Exclusive bounds
//   - oneof=a b c: Value must be one of the listed options
package validation
