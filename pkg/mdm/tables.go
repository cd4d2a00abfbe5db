package mdm

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LevelPair gives a problem category's level for one and for several occurrences.
type LevelPair struct {
	Single   Level `yaml:"single" json:"single"`
	Multiple Level `yaml:"multiple" json:"multiple"`
}

// CPTTable maps a final level to an office-visit code per patient type.
type CPTTable struct {
	New         map[Level]string `yaml:"new" json:"new"`
	Established map[Level]string `yaml:"established" json:"established"`
}

// Tables holds the lookup data behind Tables A, C and the CPT step.
type Tables struct {
	Problems map[ProblemCategory]LevelPair `yaml:"problems" json:"problems"`
	Risk     map[RiskFlag]Level            `yaml:"risk" json:"risk"`
	CPT      CPTTable                      `yaml:"cpt" json:"cpt"`
}

func DefaultTables() Tables {
	return Tables{
		Problems: map[ProblemCategory]LevelPair{
			ThreatToLife:              {Single: High, Multiple: High},
			ChronicSevereExacerbation: {Single: High, Multiple: High},
			AcuteSystemic:             {Single: Moderate, Multiple: Moderate},
			ChronicExacerbation:       {Single: Moderate, Multiple: Moderate},
			UndiagnosedNewProblem:     {Single: Moderate, Multiple: Moderate},
			AcuteRequiringObservation: {Single: Low, Multiple: Low},
			AcuteComplicatedInjury:    {Single: Moderate, Multiple: Moderate},
			AcuteUncomplicated:        {Single: Low, Multiple: Low},
			StableAcute:               {Single: Low, Multiple: Low},
			StableChronic:             {Single: Low, Multiple: Moderate},
			SelfLimited:               {Single: Straightforward, Multiple: Low},
		},
		Risk: map[RiskFlag]Level{
			RiskMinimal:                Straightforward,
			RiskLow:                    Low,
			RiskPrescriptionManagement: Moderate,
			RiskMinorSurgeryWithRisk:   Moderate,
			RiskMajorSurgeryNoRisk:     Moderate,
			RiskSocialDeterminants:     Moderate,
			RiskToxicityMonitoring:     High,
			RiskMajorSurgeryWithRisk:   High,
			RiskEmergencySurgery:       High,
			RiskHospitalization:        High,
			RiskDNR:                    High,
			RiskParenteralControlled:   High,
		},
		CPT: CPTTable{
			New: map[Level]string{
				Straightforward: "99202",
				Low:             "99203",
				Moderate:        "99204",
				High:            "99205",
			},
			Established: map[Level]string{
				Straightforward: "99212",
				Low:             "99213",
				Moderate:        "99214",
				High:            "99215",
			},
		},
	}
}

// LoadTables overlays the YAML file at path onto DefaultTables. An empty path
// yields the defaults; an unreadable file yields the defaults and the error.
func LoadTables(path string) (Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return tables, err
	}

	var overlay Tables
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return Tables{}, fmt.Errorf("parse scoring tables %s: %w", path, err)
	}

	for cat, pair := range overlay.Problems {
		tables.Problems[cat] = pair
	}
	for flag, level := range overlay.Risk {
		tables.Risk[flag] = level
	}
	for level, code := range overlay.CPT.New {
		tables.CPT.New[level] = code
	}
	for level, code := range overlay.CPT.Established {
		tables.CPT.Established[level] = code
	}

	if err := tables.Validate(); err != nil {
		return Tables{}, err
	}
	return tables, nil
}

// Validate checks every category, flag and level has a usable entry and
// that risk levels never drop along RiskSeverity.
func (t Tables) Validate() error {
	for _, cat := range ProblemPrecedence {
		pair, ok := t.Problems[cat]
		if !ok || !pair.Single.Valid() || !pair.Multiple.Valid() {
			return fmt.Errorf("problem category %s has no valid levels", cat)
		}
	}
	for cat := range t.Problems {
		if !cat.Known() {
			return fmt.Errorf("unknown problem category %q", cat)
		}
	}
	for _, flag := range RiskSeverity {
		if level, ok := t.Risk[flag]; !ok || !level.Valid() {
			return fmt.Errorf("risk flag %s has no valid level", flag)
		}
	}
	for i := 1; i < len(RiskSeverity); i++ {
		prev, flag := RiskSeverity[i-1], RiskSeverity[i]
		if t.Risk[flag] < t.Risk[prev] {
			return fmt.Errorf("risk flag %s ranks above %s but scores lower", flag, prev)
		}
	}
	for flag := range t.Risk {
		if !flag.Known() {
			return fmt.Errorf("unknown risk flag %q", flag)
		}
	}
	for _, level := range Levels {
		if t.CPT.New[level] == "" || t.CPT.Established[level] == "" {
			return fmt.Errorf("cpt table missing code for %s", level)
		}
	}
	return nil
}
