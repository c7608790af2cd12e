package whiteboard

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Property keys read from component registrations.
const (
	PropName       = "name"
	PropExpression = "expression"
	PropPeriod     = "period"
	PropImmediate  = "immediate"
	PropConcurrent = "concurrent"
	PropLeaderOnly = "leaderOnly"
	PropRunOn      = "runOn"
	PropConfig     = "config"
)

// RunOn values that make a job leader-only.
const (
	RunOnLeader = "leader"
	RunOnSingle = "single"
)

// Properties is the bag a component declares with its registration.
type Properties map[string]any

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns a trimmed, non-empty string value.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Int64 coerces integer-like values. Present but unusable values are errors.
func (p Properties) Int64(key string) (int64, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return int64(t), true, nil
	case int32:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case uint32:
		return int64(t), true, nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, true, errors.Newf("property %q: %v is not a whole number", key, t)
		}
		return int64(t), true, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, true, errors.Wrapf(err, "property %q", key)
		}
		return n, true, nil
	default:
		return 0, true, errors.Newf("property %q: unsupported type %T", key, v)
	}
}

// Bool coerces bool and boolean strings, falling back to def when absent.
func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def, errors.Wrapf(err, "property %q", key)
		}
		return b, nil
	default:
		return def, errors.Newf("property %q: unsupported type %T", key, v)
	}
}

// Map returns a nested map value.
func (p Properties) Map(key string) map[string]any {
	switch t := p[key].(type) {
	case map[string]any:
		return t
	case Properties:
		return t
	default:
		return nil
	}
}
