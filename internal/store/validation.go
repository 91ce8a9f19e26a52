package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flavorfind/internal/data"
	"flavorfind/internal/dsl"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrUniqueViolation = "unique_violation"
	ErrRefNotFound     = "ref_not_found"
	ErrReadOnly        = "readonly_field"
	ErrInUse           = "fk_in_use"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError carries the field errors of a rejected write. It matches
// data.ErrConflict when uniqueness or a restrict policy failed, and
// data.ErrInvalid otherwise.
type ValidationError struct {
	Kind   string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	conflict := false
	for _, fe := range e.Errors {
		if fe.Code == ErrUniqueViolation || fe.Code == ErrInUse {
			conflict = true
			break
		}
	}
	if conflict {
		return target == data.ErrConflict
	}
	return target == data.ErrInvalid
}

// validate checks obj against the schema and normalizes values in place.
// The caller holds the write lock so unique and ref checks see a stable view.
func (s *Storage) validate(ctx context.Context, schema *dsl.Entity, obj map[string]any) ([]FieldError, error) {
	var errs []FieldError

	for _, k := range []string{fieldID, fieldCreatedAt, fieldUpdatedAt} {
		if _, ok := obj[k]; ok {
			errs = append(errs, ferr(ErrReadOnly, k, "Field '"+k+"' is read-only"))
		}
	}

	for _, f := range schema.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			if f.Flag("required") {
				errs = append(errs, ferr(ErrRequired, f.Name, "Field '"+f.Name+"' is required"))
			}
			continue
		}
		norm, err := coerceValue(f, v)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, f.Name, "Field '"+f.Name+"' "+err.Error()))
			continue
		}
		if f.Flag("required") {
			if str, isStr := norm.(string); isStr && strings.TrimSpace(str) == "" {
				errs = append(errs, ferr(ErrRequired, f.Name, "Field '"+f.Name+"' is required"))
				continue
			}
		}
		obj[f.Name] = norm
	}
	if len(errs) > 0 {
		return errs, nil
	}

	for _, f := range schema.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		if f.Flag("unique") {
			taken, err := s.violatesUnique(ctx, schema.Name, f.Name, v)
			if err != nil {
				return nil, err
			}
			if taken {
				errs = append(errs, ferr(ErrUniqueViolation, f.Name, "Field '"+f.Name+"' must be unique"))
			}
		}
		if f.IsRef() {
			id, _ := v.(string)
			if _, err := s.repo.Get(ctx, f.RefTarget, id); err != nil {
				if !errors.Is(err, ErrNotFound) {
					return nil, err
				}
				errs = append(errs, ferr(ErrRefNotFound, f.Name, "Referenced '"+f.RefTarget+"' not found"))
			}
		}
	}
	return errs, nil
}

func (s *Storage) violatesUnique(ctx context.Context, kind, field string, v any) (bool, error) {
	recs, err := s.repo.List(ctx, kind)
	if err != nil {
		return false, err
	}
	needle := strings.ToLower(toString(v))
	for _, rec := range recs {
		if got, ok := rec.Data[field]; ok && strings.ToLower(toString(got)) == needle {
			return true, nil
		}
	}
	return false, nil
}

func coerceValue(f dsl.Field, v any) (any, error) {
	switch f.Type {
	case "string", "text":
		return toStringStrict(v)
	case "int":
		return toIntStrict(v)
	case "float":
		return toFloatStrict(v)
	case "bool":
		return toBoolStrict(v)
	case "datetime":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return s, nil
	case "ref":
		// an included record may be sent back as-is
		if m, ok := v.(map[string]any); ok {
			v = m["id"]
		}
		s, err := toStringStrict(v)
		if err != nil {
			return nil, errors.New("must be a record id")
		}
		return s, nil
	default:
		return v, nil
	}
}

func toStringStrict(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.New("must be string")
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	default:
		return 0, errors.New("must be float")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}
