// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for decoding and validating JSON request
// bodies and query parameters.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

const (
	defaultTopN = 3
	maxTopN     = 50
)

var (
	errMalformedBody = errors.New("malformed JSON body")
	errInvalidN      = fmt.Errorf("must be an integer between 1 and %d", maxTopN)
)

// flexString decodes a JSON string or number into its literal text, so
// amounts keep their exact decimal digits.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a number or a string, got %s", b)
	}
	*f = flexString(n)
	return nil
}

// transactionRequest is the body of create and update requests. Absent
// fields stay nil.
type transactionRequest struct {
	Amount      *flexString `json:"amount"`
	Description *string     `json:"description"`
	Category    *string     `json:"category"`
	Date        *string     `json:"date"`
}

// decodeJSON reads exactly one JSON value from the request body into dst.
func decodeJSON(r *http.Request, dst any, disallowUnknown bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return &core.ValidationError{Field: "body", Err: fmt.Errorf("%w: %v", errMalformedBody, err)}
	}
	if len(body) > maxBodyBytes {
		return &core.ValidationError{Field: "body", Err: fmt.Errorf("%w: larger than %d bytes", errMalformedBody, maxBodyBytes)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if disallowUnknown {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return &core.ValidationError{Field: "body", Err: fmt.Errorf("%w: %v", errMalformedBody, err)}
	}
	if dec.More() {
		return &core.ValidationError{Field: "body", Err: fmt.Errorf("%w: trailing data", errMalformedBody)}
	}
	return nil
}

// ParseCreateTransaction decodes a new transaction. Every field is required.
func ParseCreateTransaction(r *http.Request) (core.Transaction, error) {
	var req transactionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		return core.Transaction{}, err
	}

	if req.Amount == nil {
		return core.Transaction{}, &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount}
	}
	if req.Description == nil {
		return core.Transaction{}, &core.ValidationError{Field: "description", Err: core.ErrEmptyDescription}
	}
	if req.Category == nil {
		return core.Transaction{}, &core.ValidationError{Field: "category", Err: core.ErrEmptyCategory}
	}
	if req.Date == nil {
		return core.Transaction{}, &core.ValidationError{Field: "date", Err: core.ErrInvalidDate}
	}

	patch, err := req.toPatch()
	if err != nil {
		return core.Transaction{}, err
	}
	return patch.Apply(core.Transaction{}), nil
}

// ParseTransactionPatch decodes a partial update. Fields left out of the
// body are left untouched.
func ParseTransactionPatch(r *http.Request) (core.TransactionPatch, error) {
	var req transactionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		return core.TransactionPatch{}, err
	}
	return req.toPatch()
}

func (req transactionRequest) toPatch() (core.TransactionPatch, error) {
	var p core.TransactionPatch

	if req.Amount != nil {
		amount, err := core.ParseAmount(string(*req.Amount))
		if err != nil {
			return p, &core.ValidationError{Field: "amount", Err: err}
		}
		p.Amount = &amount
	}
	if req.Description != nil {
		desc := sanitizeInput(*req.Description)
		p.Description = &desc
	}
	if req.Category != nil {
		cat := sanitizeInput(*req.Category)
		p.Category = &cat
	}
	if req.Date != nil {
		d, err := core.ParseDate(*req.Date)
		if err != nil {
			return p, &core.ValidationError{Field: "date", Err: err}
		}
		p.Date = &d
	}
	return p, nil
}

// ParseBudgetLimits decodes a flat {"category": limit} object. Category
// checks happen in the service so that unknown keys are reported together.
func ParseBudgetLimits(r *http.Request) (map[string]decimal.Decimal, error) {
	var raw map[string]flexString
	if err := decodeJSON(r, &raw, false); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &core.ValidationError{Field: "body", Err: fmt.Errorf("%w: expected an object", errMalformedBody)}
	}

	limits := make(map[string]decimal.Decimal, len(raw))
	var invalid []string
	for id, v := range raw {
		l, err := core.ParseLimit(string(v))
		if err != nil {
			invalid = append(invalid, id)
			continue
		}
		limits[id] = l
	}
	if len(invalid) > 0 {
		return nil, &core.ValidationError{Field: "limits", Values: sortStrings(invalid), Err: core.ErrInvalidAmount}
	}
	return limits, nil
}

// ParseTopN reads the n query parameter of the top categories view.
func ParseTopN(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("n"))
	if v == "" {
		return defaultTopN, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxTopN {
		return 0, &core.ValidationError{Field: "n", Err: errInvalidN}
	}
	return n, nil
}
