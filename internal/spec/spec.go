package spec

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	GroupDrivingCycle  = "Driving_Cycle"
	GroupScenarioData  = "Scenario_data"
	GroupVehicleData   = "Vehicle_data"
	GroupEnergyStorage = "Energy_Storage_data"
	GroupChargerData   = "Charger_data"
)

const (
	EnumCycleTypes = "cycle_types"
	EnumECOOptions = "eco_options"
)

const (
	FieldTypeCalculated = "calculated"

	ecoThresholdKey         = "threshold"
	defaultECOThresholdCode = 2
)

var defaultCycleCodes = []int{0, 1, 2, 3, 4}

// MalformedSpecError is returned by Parse when the document cannot back a
// payload pipeline. It is fatal at startup.
type MalformedSpecError struct {
	Reason string
	Err    error
}

func (e *MalformedSpecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed specification: %s: %v", e.Reason, e.Err)
	}
	return "malformed specification: " + e.Reason
}

func (e *MalformedSpecError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return &MalformedSpecError{Reason: fmt.Sprintf(format, args...)}
}

type FieldDescriptor struct {
	Key        string `json:"key" yaml:"key"`
	BackendKey string `json:"backend_key" yaml:"backend_key"`
	Type       string `json:"type" yaml:"type"`
	ShowOnly   bool   `json:"show_only,omitempty" yaml:"show_only,omitempty"`
}

// Calculated reports whether the backend field is system computed.
func (d FieldDescriptor) Calculated() bool {
	return d.ShowOnly || strings.EqualFold(strings.TrimSpace(d.Type), FieldTypeCalculated)
}

type EnumOption struct {
	Code  int    `json:"code" yaml:"code"`
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

type document struct {
	Version  string                       `yaml:"version"`
	UISchema map[string][]FieldDescriptor `yaml:"ui_schema"`
	Enums    map[string][]EnumOption      `yaml:"enums"`
}

// FieldMapping is one UI key to backend key rename within a group.
type FieldMapping struct {
	UIKey      string
	BackendKey string
}

// Index is the parsed, read-only view of a specification document. It is
// built once and shared by every request; nothing mutates it after Parse.
type Index struct {
	version    string
	template   map[string]map[string]any
	groups     []string
	fields     map[string][]FieldMapping
	calculated map[string]struct{}
	enums      map[string][]EnumOption
	cycles     CycleCatalogue
	ecoCode    int
}

func LoadFile(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read specification: %w", err)
	}
	return Parse(raw)
}

// Parse accepts YAML or JSON.
func Parse(raw []byte) (*Index, error) {
	var top map[string]any
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return nil, &MalformedSpecError{Reason: "decode document", Err: err}
	}
	rawTemplate, ok := top["template"]
	if !ok || rawTemplate == nil {
		return nil, malformed("template is required")
	}
	templateMap, ok := rawTemplate.(map[string]any)
	if !ok {
		return nil, malformed("template must be an object")
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &MalformedSpecError{Reason: "decode ui_schema/enums", Err: err}
	}

	ix := &Index{
		version:    strings.TrimSpace(doc.Version),
		template:   make(map[string]map[string]any, len(templateMap)),
		fields:     make(map[string][]FieldMapping, len(doc.UISchema)),
		calculated: make(map[string]struct{}),
		enums:      make(map[string][]EnumOption, len(doc.Enums)),
	}

	for group, value := range templateMap {
		fields, ok := value.(map[string]any)
		if !ok {
			if value != nil {
				return nil, malformed("template.%s must be an object", group)
			}
			fields = map[string]any{}
		}
		ix.template[group] = fields
		ix.groups = append(ix.groups, group)
	}
	sort.Strings(ix.groups)

	for group, descriptors := range doc.UISchema {
		mappings := make([]FieldMapping, 0, len(descriptors))
		for i, d := range descriptors {
			uiKey := strings.TrimSpace(d.Key)
			backendKey := strings.TrimSpace(d.BackendKey)
			if uiKey == "" && backendKey == "" {
				return nil, malformed("ui_schema.%s[%d] needs key or backend_key", group, i)
			}
			if backendKey == "" {
				backendKey = uiKey
			}
			if uiKey == "" {
				uiKey = backendKey
			}
			mappings = append(mappings, FieldMapping{UIKey: uiKey, BackendKey: backendKey})
			if d.Calculated() {
				ix.calculated[QualifiedKey(group, backendKey)] = struct{}{}
			}
		}
		ix.fields[group] = mappings
	}

	for name, options := range doc.Enums {
		ix.enums[name] = append([]EnumOption(nil), options...)
	}

	cycles, err := cycleCatalogueFrom(ix.enums[EnumCycleTypes])
	if err != nil {
		return nil, err
	}
	ix.cycles = cycles

	ix.ecoCode = defaultECOThresholdCode
	if code, ok := ix.EnumCode(EnumECOOptions, ecoThresholdKey); ok {
		ix.ecoCode = code
	}
	return ix, nil
}

func QualifiedKey(group, backendKey string) string {
	return group + "." + backendKey
}

func (ix *Index) Version() string { return ix.version }

// Groups returns the template group names in sorted order.
func (ix *Index) Groups() []string {
	return append([]string(nil), ix.groups...)
}

// TemplateGroup returns a deep copy of one group's defaults.
func (ix *Index) TemplateGroup(group string) (map[string]any, bool) {
	fields, ok := ix.template[group]
	if !ok {
		return nil, false
	}
	return CloneMap(fields), true
}

// TemplateDefault returns a deep copy of a single template default.
func (ix *Index) TemplateDefault(group, key string) (any, bool) {
	fields, ok := ix.template[group]
	if !ok {
		return nil, false
	}
	v, ok := fields[key]
	if !ok {
		return nil, false
	}
	return CloneValue(v), true
}

func (ix *Index) FieldMappings(group string) []FieldMapping {
	return append([]FieldMapping(nil), ix.fields[group]...)
}

// BackendKey resolves a UI key within a group. When several descriptors share
// a UI key the last one wins, matching MapInputToBackend.
func (ix *Index) BackendKey(group, uiKey string) (string, bool) {
	var (
		out   string
		found bool
	)
	for _, m := range ix.fields[group] {
		if m.UIKey == uiKey {
			out, found = m.BackendKey, true
		}
	}
	return out, found
}

// UIKeys returns every UI key (backend key included) that resolves to the
// given backend field.
func (ix *Index) UIKeys(group, backendKey string) []string {
	keys := []string{backendKey}
	for _, m := range ix.fields[group] {
		if m.BackendKey == backendKey && m.UIKey != backendKey {
			keys = append(keys, m.UIKey)
		}
	}
	return keys
}

func (ix *Index) FieldCount() int {
	n := 0
	for _, mappings := range ix.fields {
		n += len(mappings)
	}
	return n
}

func (ix *Index) IsCalculated(group, backendKey string) bool {
	_, ok := ix.calculated[QualifiedKey(group, backendKey)]
	return ok
}

// CalculatedKeys returns the qualified group.backendKey names in sorted order.
func (ix *Index) CalculatedKeys() []string {
	out := make([]string, 0, len(ix.calculated))
	for k := range ix.calculated {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (ix *Index) Enum(name string) []EnumOption {
	return append([]EnumOption(nil), ix.enums[name]...)
}

func (ix *Index) EnumCode(name, key string) (int, bool) {
	for _, opt := range ix.enums[name] {
		if strings.EqualFold(strings.TrimSpace(opt.Key), key) {
			return opt.Code, true
		}
	}
	return 0, false
}

func (ix *Index) CycleTypes() CycleCatalogue { return ix.cycles }

// ECOThresholdCode is the ECO_Options value that makes ECO_Threshold required.
func (ix *Index) ECOThresholdCode() int { return ix.ecoCode }

// CycleCatalogue is the closed set of cycle type codes. Zero is City, the
// largest code is Custom and every other code is a Standard cycle.
type CycleCatalogue struct {
	codes []int
}

const CityCycleCode = 0

var errNoCycleTypes = errors.New("no cycle types")

func NewCycleCatalogue(codes []int) (CycleCatalogue, error) {
	if len(codes) == 0 {
		return CycleCatalogue{}, errNoCycleTypes
	}
	seen := make(map[int]struct{}, len(codes))
	out := make([]int, 0, len(codes))
	for _, c := range codes {
		if c < 0 {
			return CycleCatalogue{}, fmt.Errorf("cycle type %d is negative", c)
		}
		if _, ok := seen[c]; ok {
			return CycleCatalogue{}, fmt.Errorf("cycle type %d is duplicated", c)
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Ints(out)
	if out[0] != CityCycleCode {
		return CycleCatalogue{}, fmt.Errorf("cycle type %d (city) is required", CityCycleCode)
	}
	if len(out) < 2 {
		return CycleCatalogue{}, errors.New("a custom cycle type above zero is required")
	}
	return CycleCatalogue{codes: out}, nil
}

func cycleCatalogueFrom(options []EnumOption) (CycleCatalogue, error) {
	codes := defaultCycleCodes
	if len(options) > 0 {
		codes = make([]int, 0, len(options))
		for _, opt := range options {
			codes = append(codes, opt.Code)
		}
	}
	c, err := NewCycleCatalogue(codes)
	if err != nil {
		return CycleCatalogue{}, &MalformedSpecError{Reason: "enums." + EnumCycleTypes, Err: err}
	}
	return c, nil
}

func (c CycleCatalogue) Codes() []int { return append([]int(nil), c.codes...) }

func (c CycleCatalogue) Contains(code int) bool {
	i := sort.SearchInts(c.codes, code)
	return i < len(c.codes) && c.codes[i] == code
}

func (c CycleCatalogue) Min() int {
	if len(c.codes) == 0 {
		return 0
	}
	return c.codes[0]
}

func (c CycleCatalogue) Max() int {
	if len(c.codes) == 0 {
		return 0
	}
	return c.codes[len(c.codes)-1]
}

func (c CycleCatalogue) CustomCode() int { return c.Max() }

// StandardCodes returns every code that is neither City nor Custom.
func (c CycleCatalogue) StandardCodes() []int {
	if len(c.codes) <= 2 {
		return nil
	}
	return append([]int(nil), c.codes[1:len(c.codes)-1]...)
}
