package query

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

const (
	paramSelect = "select"
	paramSort   = "sort"
	paramPage   = "page"
	paramLimit  = "limit"
	paramYear   = "year"
)

var reservedParams = map[string]struct{}{
	paramSelect: {},
	paramSort:   {},
	paramPage:   {},
	paramLimit:  {},
	paramYear:   {},
}

// Caller supplied owner fields are dropped; the owner always comes from the
// authenticated context.
var ownerParams = map[string]struct{}{
	"owner":   {},
	"ownerId": {},
	"user":    {},
}

// Translator builds Specs from request parameters.
type Translator struct {
	kinds Registry
	now   func() time.Time
}

// NewTranslator wires the per-kind configuration.
func NewTranslator(kinds Registry) *Translator {
	return &Translator{kinds: kinds, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (t *Translator) WithNow(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Translate converts raw parameters into an owner-scoped Spec.
func (t *Translator) Translate(owner uuid.UUID, kind Kind, values url.Values) (Spec, error) {
	if owner == uuid.Nil {
		return Spec{}, shared.ErrUnauthorized
	}
	cfg, ok := t.kinds[kind]
	if !ok {
		return Spec{}, shared.Validation("unknown collection %q", kind)
	}

	spec := Spec{
		OwnerID:  owner,
		Kind:     kind,
		Page:     positiveOr(values.Get(paramPage), DefaultPage, MaxPage),
		PageSize: positiveOr(values.Get(paramLimit), DefaultLimit, math.MaxInt),
	}
	if spec.PageSize > MaxLimit {
		spec.PageSize = MaxLimit
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, reserved := reservedParams[key]; reserved {
			continue
		}
		name, op, err := splitKey(key)
		if err != nil {
			return Spec{}, err
		}
		if _, owned := ownerParams[name]; owned {
			continue
		}
		field, ok := cfg.Resolve(name)
		if !ok {
			return Spec{}, shared.Validation("unknown filter field %q", name)
		}
		conds, err := buildConditions(field, op, values[key])
		if err != nil {
			return Spec{}, err
		}
		spec.Conditions = append(spec.Conditions, conds...)
	}

	if err := t.applyWindow(&spec, cfg, values.Get(paramYear)); err != nil {
		return Spec{}, err
	}

	sortFields, err := parseSort(cfg, values.Get(paramSort))
	if err != nil {
		return Spec{}, err
	}
	spec.Sort = sortFields

	selected, err := parseSelect(cfg, values.Get(paramSelect))
	if err != nil {
		return Spec{}, err
	}
	spec.Select = selected

	return spec, nil
}

func (t *Translator) applyWindow(spec *Spec, cfg KindConfig, rawYear string) error {
	if strings.TrimSpace(rawYear) != "" {
		if cfg.Window == nil || cfg.Window.ForYear == nil {
			return shared.Validation("%s cannot be filtered by tax year", cfg.Kind)
		}
		year, err := taxyear.ParseYear(rawYear)
		if err != nil {
			return err
		}
		w := cfg.Window.ForYear(year)
		spec.Conditions = append(spec.Conditions, windowConditions(cfg.Window.Field, w)...)
		return nil
	}
	if cfg.Window == nil || cfg.Window.Default == nil {
		return nil
	}
	for _, cond := range spec.Conditions {
		if cond.Field == cfg.Window.Field {
			return nil
		}
	}
	w := cfg.Window.Default(t.now())
	spec.DefaultWindow = &w
	spec.Conditions = append(spec.Conditions, windowConditions(cfg.Window.Field, w)...)
	return nil
}

func windowConditions(field string, w taxyear.Window) []Condition {
	return []Condition{
		{Field: field, Op: OpGte, Values: []any{w.Start}},
		{Field: field, Op: OpLt, Values: []any{w.End}},
	}
}

// splitKey separates "amount[gte]" into its field and operator.
func splitKey(key string) (string, Operator, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, OpEq, nil
	}
	if !strings.HasSuffix(key, "]") || open == 0 {
		return "", "", shared.Validation("malformed filter %q", key)
	}
	name := key[:open]
	raw := key[open+1 : len(key)-1]
	op, ok := operators[raw]
	if !ok {
		return "", "", shared.Validation("unsupported operator %q", raw)
	}
	return name, op, nil
}

func buildConditions(field Field, op Operator, raws []string) ([]Condition, error) {
	if op == OpIn {
		var values []any
		for _, raw := range raws {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				v, err := parseValue(field, part)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return nil, shared.Validation("%s[in] requires at least one value", field.Name)
		}
		return []Condition{{Field: field.Name, Op: OpIn, Values: values}}, nil
	}

	conds := make([]Condition, 0, len(raws))
	for _, raw := range raws {
		v, err := parseValue(field, strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		conds = append(conds, Condition{Field: field.Name, Op: op, Values: []any{v}})
	}
	return conds, nil
}

func parseValue(field Field, raw string) (any, error) {
	switch field.Type {
	case FieldDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, shared.Validation("%s: %q is not a number", field.Name, raw)
		}
		return d, nil
	case FieldDate:
		t, err := parseDate(raw)
		if err != nil {
			return nil, shared.Validation("%s: %q is not a date", field.Name, raw)
		}
		return t, nil
	case FieldUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, shared.Validation("%s: %q is not an id", field.Name, raw)
		}
		return id, nil
	case FieldBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, shared.Validation("%s: %q is not a boolean", field.Name, raw)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseSort reads "title,-amount" left to right.
func parseSort(cfg KindConfig, raw string) ([]SortField, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if len(cfg.DefaultSort) > 0 {
			return append([]SortField(nil), cfg.DefaultSort...), nil
		}
		return []SortField{{Field: FieldCreatedAt, Desc: true}}, nil
	}
	var out []SortField
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := strings.HasPrefix(part, "-")
		name := strings.TrimPrefix(strings.TrimPrefix(part, "-"), "+")
		field, ok := cfg.Resolve(name)
		if !ok || !field.Sortable {
			return nil, shared.Validation("cannot sort by %q", name)
		}
		out = append(out, SortField{Field: field.Name, Desc: desc})
	}
	return out, nil
}

func parseSelect(cfg KindConfig, raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, ok := cfg.Resolve(part)
		if !ok {
			return nil, shared.Validation("cannot select %q", part)
		}
		if seen[field.Name] {
			continue
		}
		seen[field.Name] = true
		out = append(out, field.Name)
	}
	return out, nil
}

// String renders a condition for logs.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Values)
}
