package maintenance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTarget indicates that a schedule's target definition cannot be interpreted.
var ErrInvalidTarget = errors.New("invalid schedule target")

// TargetError describes a malformed targetUnits value. It is a caller-input
// error: the schedule definition must be fixed upstream.
type TargetError struct {
	ScheduleID string
	TargetType TargetType
	Raw        string
	Err        error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("schedule %s: %s target %q: %v", e.ScheduleID, e.TargetType, e.Raw, e.Err)
}

func (e *TargetError) Unwrap() []error {
	return []error{ErrInvalidTarget, e.Err}
}

// ResolveTargets returns the units a schedule applies to, in the order of units.
func ResolveTargets(s *Schedule, units []Unit) ([]Unit, error) {
	switch s.TargetType {
	case TargetAllUnits, "":
		out := make([]Unit, len(units))
		copy(out, units)
		return out, nil

	case TargetSpecificUnits:
		ids, err := ParseUnitIDs(s.TargetUnits)
		if err != nil {
			return nil, &TargetError{ScheduleID: s.ID, TargetType: s.TargetType, Raw: s.TargetUnits, Err: err}
		}
		wanted := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			wanted[id] = struct{}{}
		}
		return filterUnits(units, func(u Unit) bool {
			_, ok := wanted[u.ID]
			return ok
		}), nil

	case TargetFloor:
		raw := unquote(s.TargetUnits)
		floor, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &TargetError{ScheduleID: s.ID, TargetType: s.TargetType, Raw: s.TargetUnits, Err: errors.New("floor must be an integer")}
		}
		return filterUnits(units, func(u Unit) bool { return u.Floor == floor }), nil

	case TargetUnitType:
		unitType := unquote(s.TargetUnits)
		if unitType == "" {
			return nil, &TargetError{ScheduleID: s.ID, TargetType: s.TargetType, Raw: s.TargetUnits, Err: errors.New("unit type is empty")}
		}
		return filterUnits(units, func(u Unit) bool { return strings.EqualFold(u.UnitType, unitType) }), nil

	default:
		return nil, &TargetError{ScheduleID: s.ID, TargetType: s.TargetType, Raw: s.TargetUnits, Err: errors.New("unknown target type")}
	}
}

// ParseUnitIDs decodes a JSON array of unit ids. Elements may be numbers or strings.
func ParseUnitIDs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("targetUnits is empty")
	}

	// Some clients double-encode the array as a JSON string.
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil, fmt.Errorf("decoding targetUnits: %w", err)
		}
		raw = inner
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, fmt.Errorf("decoding targetUnits: %w", err)
	}

	ids := make([]string, 0, len(elems))
	for _, e := range elems {
		var n json.Number
		if err := json.Unmarshal(e, &n); err == nil {
			ids = append(ids, n.String())
			continue
		}
		var s string
		if err := json.Unmarshal(e, &s); err == nil && s != "" {
			ids = append(ids, s)
			continue
		}
		return nil, fmt.Errorf("unsupported unit id %s", string(e))
	}
	return ids, nil
}

func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return raw
}

func filterUnits(units []Unit, keep func(Unit) bool) []Unit {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out
}
