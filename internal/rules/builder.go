package rules

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/animus-labs/simgate/internal/spec"
)

const (
	fieldECOOptions   = "ECO_Options"
	fieldECOThreshold = "ECO_Threshold"

	fieldInitialSoC = "Initial_Battery_SoC_pct"
	fieldMaximumSoC = "MaximumSoC_pct"

	fieldVehicleLength = "Vehicle_Length_m"

	flagSuffix = "_flag"
)

// scenarioDataFields are the Scenario_data fields that get a second-level
// default once the Standard branch keeps the group.
var scenarioDataFields = []string{
	fieldVehicleLength,
	"Initial_Gap_m",
	"Lead_Vehicle_Speed_mps",
	"Road_Grade_pct",
}

// Payload is the canonical backend payload: group -> backend field -> value.
type Payload map[string]map[string]any

// Canonical returns the JSON encoding sent upstream. Map keys are sorted by
// encoding/json so equal payloads encode to equal bytes.
func (p Payload) Canonical() ([]byte, error) {
	return json.Marshal(map[string]map[string]any(p))
}

// Builder turns grouped caller input into a canonical Payload. It holds only
// the read-only spec index and is safe for concurrent use.
type Builder struct {
	index *spec.Index
}

func NewBuilder(index *spec.Index) (*Builder, error) {
	if index == nil {
		return nil, errors.New("spec index is required")
	}
	return &Builder{index: index}, nil
}

func (b *Builder) Index() *spec.Index { return b.index }

func (b *Builder) Build(input map[string]any) (Payload, error) {
	payload, _, err := b.BuildWithScenario(input)
	return payload, err
}

// BuildWithScenario runs the full rule set and reports which cycle-type branch
// applied.
func (b *Builder) BuildWithScenario(input map[string]any) (Payload, Scenario, error) {
	mapped := b.index.MapInputToBackend(input)
	out := b.mergeTemplate(mapped)

	cycle, ok := out[spec.GroupDrivingCycle]
	if !ok {
		cycle = map[string]any{}
		out[spec.GroupDrivingCycle] = cycle
	}
	rawCode, present := cycle[fieldCycleType]
	if !present || rawCode == nil {
		return nil, "", missingField(RuleCycleTypeRequired, spec.GroupDrivingCycle, fieldCycleType, "cycle type is required")
	}
	code, ok := spec.AsInt(rawCode)
	if !ok {
		return nil, "", invalidScenario(RuleCycleTypeKnown, spec.GroupDrivingCycle, fieldCycleType, "cycle type must be an integer")
	}
	rule, err := scenarioFor(b.index.CycleTypes(), code)
	if err != nil {
		return nil, "", err
	}
	if err := rule.apply(cycle); err != nil {
		return nil, "", err
	}

	if rule.scenario() == ScenarioStandard {
		b.fillScenarioData(out, mapped)
	} else {
		delete(out, spec.GroupScenarioData)
	}

	if err := b.gateECO(cycle); err != nil {
		return nil, "", err
	}
	normalizeFlags(out[spec.GroupChargerData])
	b.defaultInitialSoC(out, mapped)
	b.scrubCalculated(out)

	return out, rule.scenario(), nil
}

// mergeTemplate overlays mapped input onto a deep copy of the template. Only
// template keys survive; calculated keys are left out entirely.
func (b *Builder) mergeTemplate(mapped map[string]any) Payload {
	out := make(Payload)
	for _, group := range b.index.Groups() {
		defaults, _ := b.index.TemplateGroup(group)
		supplied, _ := mapped[group].(map[string]any)

		fields := make(map[string]any, len(defaults))
		for key, def := range defaults {
			if b.index.IsCalculated(group, key) {
				continue
			}
			v, ok := supplied[key]
			switch {
			case ok && isFlagKey(key):
				fields[key] = flagValue(v)
			case ok:
				fields[key] = spec.CloneValue(v)
			default:
				fields[key] = def
			}
		}
		out[group] = fields
	}
	return out
}

func (b *Builder) fillScenarioData(out Payload, mapped map[string]any) {
	group, ok := out[spec.GroupScenarioData]
	if !ok {
		group = make(map[string]any, len(scenarioDataFields))
		out[spec.GroupScenarioData] = group
	}
	for _, field := range scenarioDataFields {
		if group[field] != nil {
			continue
		}
		group[field] = 0
		if field == fieldVehicleLength {
			if v, ok := b.index.TemplateDefault(spec.GroupVehicleData, fieldVehicleLength); ok {
				if _, numeric := spec.AsNumber(v); numeric {
					group[field] = v
				}
			}
		}
	}
}

func (b *Builder) gateECO(cycle map[string]any) error {
	option, ok := spec.AsInt(cycle[fieldECOOptions])
	if ok && option == b.index.ECOThresholdCode() {
		if cycle[fieldECOThreshold] == nil {
			return missingField(RuleECOThreshold, spec.GroupDrivingCycle, fieldECOThreshold,
				"ECO_Threshold is required when ECO_Options selects threshold")
		}
		return nil
	}
	cycle[fieldECOThreshold] = nil
	return nil
}

func (b *Builder) defaultInitialSoC(out Payload, mapped map[string]any) {
	storage, ok := out[spec.GroupEnergyStorage]
	if !ok {
		return
	}
	if supplied, _ := mapped[spec.GroupEnergyStorage].(map[string]any); supplied[fieldInitialSoC] != nil {
		return
	}
	if maxSoC, ok := storage[fieldMaximumSoC]; ok {
		if _, numeric := spec.AsNumber(maxSoC); numeric {
			storage[fieldInitialSoC] = maxSoC
		}
	}
}

func (b *Builder) scrubCalculated(out Payload) {
	for group, fields := range out {
		for key := range fields {
			if b.index.IsCalculated(group, key) {
				delete(fields, key)
			}
		}
	}
}

func normalizeFlags(fields map[string]any) {
	for key, v := range fields {
		if isFlagKey(key) {
			fields[key] = flagValue(v)
		}
	}
}

func isFlagKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), flagSuffix)
}

// flagValue collapses a truthy/falsy value to 1 or 0.
func flagValue(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on", "y":
			return 1
		default:
			return 0
		}
	}
	if n, ok := spec.AsNumber(v); ok {
		if n != 0 {
			return 1
		}
		return 0
	}
	return 1
}
