package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// ErrUnknownContract is returned when no contract is registered under an id.
var ErrUnknownContract = errors.New("unknown output contract")

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	// NotJSON means the raw output did not parse as JSON at all.
	NotJSON ErrorKind = "not_json"
	// ContractViolation means the output parsed but broke the contract.
	ContractViolation ErrorKind = "contract"
)

// ValidationError describes the first violation found in a model output.
type ValidationError struct {
	Kind    ErrorKind
	Path    string // dotted field path, empty for the document root
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Check validates raw against the node tree without decoding it into a
// typed structure.
func Check(root *Node, raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return &ValidationError{Kind: NotJSON, Message: "output is not valid JSON", Err: err}
	}
	if verr := check(root, doc, ""); verr != nil {
		return verr
	}
	return nil
}

func check(n *Node, v any, path string) *ValidationError {
	switch n.Kind {
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return mismatch(path, "object", v)
		}
		for _, f := range n.Fields {
			fv, present := obj[f.Name]
			if !present {
				if f.Optional {
					continue
				}
				return violation(join(path, f.Name), "required field is missing")
			}
			if err := check(f.Node, fv, join(path, f.Name)); err != nil {
				return err
			}
		}
		return nil

	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return mismatch(path, "array", v)
		}
		for i, item := range arr {
			if err := check(n.Items, item, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		return nil

	case KindString:
		if _, ok := v.(string); !ok {
			return mismatch(path, "string", v)
		}
		return nil

	case KindNumber:
		num, ok := v.(float64)
		if !ok {
			return mismatch(path, "number", v)
		}
		if n.Min != nil && num < *n.Min {
			return violation(path, fmt.Sprintf("%s is below minimum %s", formatNumber(num), formatNumber(*n.Min)))
		}
		if n.Max != nil && num > *n.Max {
			return violation(path, fmt.Sprintf("%s is above maximum %s", formatNumber(num), formatNumber(*n.Max)))
		}
		return nil

	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, "string", v)
		}
		if !slices.Contains(n.Values, s) {
			return violation(path, fmt.Sprintf("%q is not one of %q", s, n.Values))
		}
		return nil
	}
	return violation(path, fmt.Sprintf("unsupported node kind %s", n.Kind))
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func violation(path, msg string) *ValidationError {
	return &ValidationError{Kind: ContractViolation, Path: path, Message: msg}
}

func mismatch(path, want string, got any) *ValidationError {
	return violation(path, fmt.Sprintf("expected %s, got %s", want, jsonType(got)))
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
