package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Param declares one parameter. Default is applied when the caller omits
// the parameter; Properties and Items describe objects and arrays.
type Param struct {
	Type       schema.DataType
	Desc       string
	Enum       []string
	Required   bool
	Default    any
	Properties map[string]*Param
	Items      *Param
}

// Spec is the self-description of an agent: the catalogue entry handed to
// the dispatcher and the contract its parameters are validated against.
type Spec struct {
	Name        string
	Description string
	Params      map[string]*Param

	// Schema replaces Params for agents whose schema comes from elsewhere
	// (MCP tools). Such parameters are only checked to be an object.
	Schema *schema.ParamsOneOf
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Check validates the parameter schema itself.
func (s Spec) Check() error {
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidSpec, s.Name)
	}
	for name, p := range s.Params {
		if err := p.check(name); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, s.Name, err)
		}
	}
	return nil
}

func (p *Param) check(path string) error {
	if p == nil {
		return fmt.Errorf("%s: nil parameter", path)
	}
	switch p.Type {
	case schema.String, schema.Integer, schema.Number, schema.Boolean, schema.Object, schema.Array, schema.Null:
	default:
		return fmt.Errorf("%s: unknown type %q", path, p.Type)
	}
	if len(p.Enum) > 0 && p.Type != schema.String {
		return fmt.Errorf("%s: enum on non-string type", path)
	}
	if p.Default != nil {
		if _, err := p.coerce(path, p.Default); err != nil {
			return fmt.Errorf("bad default: %v", err)
		}
	}
	for name, sub := range p.Properties {
		if err := sub.check(path + "." + name); err != nil {
			return err
		}
	}
	if p.Items != nil {
		return p.Items.check(path + "[]")
	}
	return nil
}

func (p *Param) info() *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type:     p.Type,
		Desc:     p.Desc,
		Enum:     p.Enum,
		Required: p.Required,
	}
	if p.Default != nil {
		info.Desc = strings.TrimSpace(fmt.Sprintf("%s (default: %v)", p.Desc, p.Default))
	}
	if len(p.Properties) > 0 {
		info.SubParams = make(map[string]*schema.ParameterInfo, len(p.Properties))
		for name, sub := range p.Properties {
			info.SubParams[name] = sub.info()
		}
	}
	if p.Items != nil {
		info.ElemInfo = p.Items.info()
	}
	return info
}

// ToolInfo renders s as a tool description for the dispatcher.
func (s Spec) ToolInfo() *schema.ToolInfo {
	ti := &schema.ToolInfo{Name: s.Name, Desc: s.Description}
	switch {
	case s.Schema != nil:
		ti.ParamsOneOf = s.Schema
	case len(s.Params) > 0:
		params := make(map[string]*schema.ParameterInfo, len(s.Params))
		for name, p := range s.Params {
			params[name] = p.info()
		}
		ti.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}
	return ti
}

// Params are validated agent arguments.
type Params map[string]any

// ParseArguments decodes the JSON arguments of a tool call. Empty input is
// an empty object.
func ParseArguments(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("%w: arguments are not a JSON object: %v", ErrInvalidParams, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Validate checks args against the parameters and returns them with defaults
// applied. Unknown keys are kept; option maps pass through unmodified.
func (s Spec) Validate(args map[string]any) (Params, error) {
	if args == nil {
		args = map[string]any{}
	}
	if s.Schema != nil || len(s.Params) == 0 {
		return Params(args), nil
	}
	out, err := validateObject("", s.Params, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return Params(out), nil
}

func validateObject(path string, props map[string]*Param, in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in)+len(props))
	for k, v := range in {
		out[k] = v
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := props[name]
		key := join(path, name)
		v, ok := out[name]
		if !ok || v == nil {
			if p.Default != nil {
				out[name] = p.Default
				continue
			}
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %s", key)
			}
			continue
		}
		cv, err := p.coerce(key, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (p *Param) coerce(path string, v any) (any, error) {
	switch p.Type {
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", path)
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return nil, fmt.Errorf("%s must be one of %s, got %q", path, strings.Join(p.Enum, ", "), s)
		}
		return s, nil
	case schema.Integer:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%s must be an integer", path)
		}
		return int(f), nil
	case schema.Number:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s must be a number", path)
		}
		return f, nil
	case schema.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean", path)
		}
		return b, nil
	case schema.Object:
		m, ok := v.(map[string]any)
		if !ok {
			if pm, isParams := v.(Params); isParams {
				m, ok = map[string]any(pm), true
			}
		}
		if !ok {
			return nil, fmt.Errorf("%s must be an object", path)
		}
		if len(p.Properties) == 0 {
			return m, nil
		}
		return validateObject(path, p.Properties, m)
	case schema.Array:
		items, ok := v.([]any)
		if !ok {
			if ss, isStrings := v.([]string); isStrings {
				items = make([]any, len(ss))
				for i, s := range ss {
					items[i] = s
				}
				ok = true
			}
		}
		if !ok {
			return nil, fmt.Errorf("%s must be an array", path)
		}
		if p.Items == nil {
			return items, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := p.Items.coerce(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}
	return v, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Int returns the integer under key, or def when absent or not numeric.
// Numeric strings are accepted.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		return def
	default:
		if f, ok := toFloat(v); ok {
			return int(f)
		}
		return def
	}
}

// Map returns the object under key, or an empty Params.
func (p Params) Map(key string) Params {
	switch v := p[key].(type) {
	case map[string]any:
		return Params(v)
	case Params:
		return v
	}
	return Params{}
}

// Strings returns the string elements of the array under key.
func (p Params) Strings(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Raw returns the value under key as a plain map for pass-through option
// maps.
func (p Params) Raw(key string) map[string]interface{} {
	m := p.Map(key)
	if len(m) == 0 {
		return nil
	}
	return map[string]interface{}(m)
}
