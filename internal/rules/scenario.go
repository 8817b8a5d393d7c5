package rules

import (
	"strconv"

	"github.com/animus-labs/simgate/internal/spec"
)

type Scenario string

const (
	ScenarioStandard Scenario = "standard"
	ScenarioCity     Scenario = "city"
	ScenarioCustom   Scenario = "custom"
)

const (
	fieldCycleType = "Cycle_Type"
	fieldTime      = "Time_s"
	fieldSpeed     = "Speed_mps"
	fieldAltitude  = "Altitude_m"
)

const (
	RuleCycleTypeRequired = "cycle_type_required"
	RuleCycleTypeKnown    = "cycle_type_known"
	RuleCustomArraysPair  = "custom_arrays_paired"
	RuleCustomArraysLen   = "custom_arrays_same_length"
	RuleECOThreshold      = "eco_threshold_required"
)

// scenarioRule is one branch of the cycle-type dispatch. Implementations only
// touch the Driving_Cycle group they are handed.
type scenarioRule interface {
	scenario() Scenario
	apply(cycle map[string]any) error
}

type standardRule struct{}

func (standardRule) scenario() Scenario { return ScenarioStandard }

func (standardRule) apply(cycle map[string]any) error {
	cycle[fieldTime] = nil
	cycle[fieldSpeed] = nil
	cycle[fieldAltitude] = 0
	return nil
}

type cityRule struct{}

func (cityRule) scenario() Scenario { return ScenarioCity }

func (cityRule) apply(cycle map[string]any) error {
	delete(cycle, fieldAltitude)
	return nil
}

type customRule struct{}

func (customRule) scenario() Scenario { return ScenarioCustom }

func (customRule) apply(cycle map[string]any) error {
	timeSeries, speedSeries := cycle[fieldTime], cycle[fieldSpeed]
	timeIsArray, speedIsArray := spec.IsArray(timeSeries), spec.IsArray(speedSeries)

	if timeIsArray != speedIsArray {
		return invalidScenario(RuleCustomArraysPair, spec.GroupDrivingCycle, fieldTime,
			"Time_s and Speed_mps: both or neither must be arrays")
	}
	if timeIsArray {
		if tl, sl := spec.ArrayLen(timeSeries), spec.ArrayLen(speedSeries); tl != sl {
			return invalidScenario(RuleCustomArraysLen, spec.GroupDrivingCycle, fieldSpeed,
				"Time_s has "+strconv.Itoa(tl)+" samples but Speed_mps has "+strconv.Itoa(sl))
		}
	}
	if isEmpty(cycle[fieldAltitude]) {
		cycle[fieldAltitude] = 0
	}
	return nil
}

// scenarioFor resolves a cycle type code against the catalogue.
func scenarioFor(cycles spec.CycleCatalogue, code int) (scenarioRule, error) {
	switch {
	case !cycles.Contains(code):
		return nil, invalidScenario(RuleCycleTypeKnown, spec.GroupDrivingCycle, fieldCycleType,
			"cycle type "+strconv.Itoa(code)+" is not in the catalogue")
	case code == spec.CityCycleCode:
		return cityRule{}, nil
	case code == cycles.CustomCode():
		return customRule{}, nil
	default:
		return standardRule{}, nil
	}
}

// Classify maps a cycle type code to its scenario without building a payload.
func Classify(cycles spec.CycleCatalogue, code int) (Scenario, error) {
	rule, err := scenarioFor(cycles, code)
	if err != nil {
		return "", err
	}
	return rule.scenario(), nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return spec.IsArray(v) && spec.ArrayLen(v) == 0
	}
}
