package criteria

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ruleNode struct {
	Field  field
	Op     Op
	Value  any
	Values []any
}

func compileRule(r models.CriteriaRule) (node, error) {
	f, ok := allowedFields[r.Field]
	if !ok {
		return nil, apperrors.Validation("field %q is not allowed", r.Field)
	}
	op := Op(r.Op)
	if !operators[op] {
		return nil, apperrors.Validation("operator %q is not supported", r.Op)
	}
	if err := checkApplicable(f, op); err != nil {
		return nil, err
	}

	n := ruleNode{Field: f, Op: op}
	switch op {
	case OpIsNull, OpIsNotNull:
		return n, nil
	case OpIn, OpNin:
		raw := toList(r.Value)
		if len(raw) == 0 {
			return nil, apperrors.Validation("operator %q on %q needs at least one value", op, f.Name)
		}
		n.Values = make([]any, 0, len(raw))
		for _, v := range raw {
			cv, err := coerce(f.Kind, v)
			if err != nil {
				return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("invalid value for %q", f.Name), err)
			}
			n.Values = append(n.Values, cv)
		}
		return n, nil
	}

	cv, err := coerce(f.Kind, r.Value)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("invalid value for %q", f.Name), err)
	}
	n.Value = cv
	return n, nil
}

func checkApplicable(f field, op Op) error {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		if f.Kind == kindList || f.Kind == kindBool {
			return apperrors.Validation("operator %q cannot be applied to %q", op, f.Name)
		}
	case OpContains:
		if f.Kind != kindString && f.Kind != kindList {
			return apperrors.Validation("operator %q cannot be applied to %q", op, f.Name)
		}
	case OpHas:
		if f.Kind != kindList {
			return apperrors.Validation("operator %q cannot be applied to %q", op, f.Name)
		}
	}
	return nil
}

// toList turns a scalar into a one-element list and passes slices through.
func toList(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	if _, isBytes := v.([]byte); isBytes {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

var errMissingValue = errors.New("value is required")

func coerce(k kind, v any) (any, error) {
	if v == nil {
		return nil, errMissingValue
	}
	switch k {
	case kindString, kindList:
		return toString(v)
	case kindNumber:
		return toNumber(v)
	case kindBool:
		return toBool(v)
	case kindTime:
		return toTime(v)
	}
	return nil, fmt.Errorf("unsupported field kind %d", k)
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	case float64, float32, int, int32, int64:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case primitive.DateTime:
		return t.Time().UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", t)
	}
	return time.Time{}, fmt.Errorf("expected a time, got %T", v)
}

func (r ruleNode) match(c *models.Contact) bool {
	v := fieldValue(c, r.Field.Name)
	null := r.Field.isNull(v)

	switch r.Op {
	case OpIsNull:
		return null
	case OpIsNotNull:
		return !null
	case OpNeq:
		return null || !equalValue(v, r.Value)
	case OpNin:
		return null || !inValues(v, r.Values)
	}
	if null {
		return false
	}

	switch r.Op {
	case OpEq:
		return equalValue(v, r.Value)
	case OpGt:
		return compareValue(v, r.Value) > 0
	case OpGte:
		return compareValue(v, r.Value) >= 0
	case OpLt:
		return compareValue(v, r.Value) < 0
	case OpLte:
		return compareValue(v, r.Value) <= 0
	case OpIn:
		return inValues(v, r.Values)
	case OpContains:
		if list, ok := v.([]string); ok {
			return listContains(list, r.Value)
		}
		s, _ := v.(string)
		want, _ := r.Value.(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(want))
	case OpHas:
		list, _ := v.([]string)
		return listContains(list, r.Value)
	}
	return false
}

func (r ruleNode) filter() bson.M {
	path := r.Field.Path
	switch r.Op {
	case OpEq:
		return bson.M{path: r.Value}
	case OpNeq:
		return bson.M{path: bson.M{"$ne": r.Value}}
	case OpGt:
		return bson.M{path: bson.M{"$gt": r.Value}}
	case OpGte:
		return bson.M{path: bson.M{"$gte": r.Value}}
	case OpLt:
		return bson.M{path: bson.M{"$lt": r.Value}}
	case OpLte:
		return bson.M{path: bson.M{"$lte": r.Value}}
	case OpIn:
		return bson.M{path: bson.M{"$in": bson.A(r.Values)}}
	case OpNin:
		return bson.M{path: bson.M{"$nin": bson.A(r.Values)}}
	case OpContains:
		if r.Field.Kind == kindList {
			return bson.M{path: r.Value}
		}
		return bson.M{path: bson.M{"$regex": regexp.QuoteMeta(r.Value.(string)), "$options": "i"}}
	case OpHas:
		return bson.M{path: r.Value}
	case OpIsNull:
		switch r.Field.Kind {
		case kindString:
			return bson.M{path: bson.M{"$in": bson.A{nil, ""}}}
		case kindList:
			return bson.M{"$or": bson.A{bson.M{path: nil}, bson.M{path: bson.M{"$size": 0}}}}
		}
		return bson.M{path: nil}
	case OpIsNotNull:
		switch r.Field.Kind {
		case kindString:
			return bson.M{path: bson.M{"$nin": bson.A{nil, ""}}}
		case kindList:
			return bson.M{path: bson.M{"$exists": true, "$ne": bson.A{}}}
		}
		return bson.M{path: bson.M{"$ne": nil}}
	}
	return bson.M{}
}

func equalValue(v, want any) bool {
	switch t := v.(type) {
	case []string:
		return listContains(t, want)
	case time.Time:
		w, ok := want.(time.Time)
		return ok && t.Equal(w)
	}
	return v == want
}

func inValues(v any, values []any) bool {
	for _, want := range values {
		if equalValue(v, want) {
			return true
		}
	}
	return false
}

func listContains(list []string, want any) bool {
	w, ok := want.(string)
	if !ok {
		return false
	}
	for _, s := range list {
		if s == w {
			return true
		}
	}
	return false
}

func compareValue(v, want any) int {
	switch t := v.(type) {
	case float64:
		w, _ := want.(float64)
		switch {
		case t < w:
			return -1
		case t > w:
			return 1
		}
		return 0
	case string:
		w, _ := want.(string)
		return strings.Compare(t, w)
	case time.Time:
		w, _ := want.(time.Time)
		return t.Compare(w)
	}
	return 0
}
