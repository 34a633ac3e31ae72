package planner

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// CatalogEntry holds the remediation steps and known risks for one incident type.
type CatalogEntry struct {
	Risks []string
	Steps []models.RecoveryStep
}

// Catalog is the static step catalog keyed by incident type.
type Catalog struct {
	entries map[models.IncidentType]CatalogEntry
}

// catalogFile, catalogEntry, and catalogStep are the YAML wire shapes; the
// loader converts them into domain types so duration strings like "30s"
// parse cleanly.
type catalogFile struct {
	Plans map[models.IncidentType]catalogEntry `yaml:"plans"`
}

type catalogEntry struct {
	Risks []string      `yaml:"risks"`
	Steps []catalogStep `yaml:"steps"`
}

type catalogStep struct {
	Action            string            `yaml:"action"`
	Description       string            `yaml:"description"`
	EstimatedDuration utils.Duration    `yaml:"estimatedDuration"`
	RequiredResources []string          `yaml:"requiredResources"`
	Params            map[string]string `yaml:"params"`
	RollbackProcedure string            `yaml:"rollbackProcedure"`
	Validation        catalogValidation `yaml:"validation"`
}

type catalogValidation struct {
	Type     string `yaml:"type"`
	Criteria string `yaml:"criteria"`
}

// LoadCatalog reads a catalog from path, falling back to the built-in
// catalog when path is empty or the file does not exist.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return defaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultCatalog(), nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Plans) == 0 {
		return defaultCatalog(), nil
	}

	entries := make(map[models.IncidentType]CatalogEntry, len(file.Plans))
	for incidentType, raw := range file.Plans {
		entry, err := convertEntry(incidentType, raw)
		if err != nil {
			return nil, err
		}
		entries[incidentType] = entry
	}
	return &Catalog{entries: entries}, nil
}

func convertEntry(incidentType models.IncidentType, raw catalogEntry) (CatalogEntry, error) {
	entry := CatalogEntry{
		Risks: raw.Risks,
		Steps: make([]models.RecoveryStep, 0, len(raw.Steps)),
	}
	for i, s := range raw.Steps {
		if s.Action == "" {
			return CatalogEntry{}, fmt.Errorf("catalog entry %s step %d: action is required", incidentType, i+1)
		}
		vt := models.ValidationType(s.Validation.Type)
		switch vt {
		case models.ValidationMetric, models.ValidationLog, models.ValidationManual:
		case "":
			vt = models.ValidationLog
		default:
			return CatalogEntry{}, fmt.Errorf("catalog entry %s step %q: unknown validation type %q", incidentType, s.Action, s.Validation.Type)
		}
		entry.Steps = append(entry.Steps, models.RecoveryStep{
			Action:            s.Action,
			Description:       s.Description,
			EstimatedDuration: s.EstimatedDuration.Std(),
			RequiredResources: s.RequiredResources,
			Params:            s.Params,
			RollbackProcedure: s.RollbackProcedure,
			Validation:        models.StepValidation{Type: vt, Criteria: s.Validation.Criteria},
		})
	}
	return entry, nil
}

// Entry returns the catalog entry for an incident type.
func (c *Catalog) Entry(incidentType models.IncidentType) (CatalogEntry, bool) {
	entry, ok := c.entries[incidentType]
	return entry, ok
}

// Types lists the incident types the catalog covers.
func (c *Catalog) Types() []models.IncidentType {
	types := make([]models.IncidentType, 0, len(c.entries))
	for t := range c.entries {
		types = append(types, t)
	}
	return types
}

func defaultCatalog() *Catalog {
	return &Catalog{entries: map[models.IncidentType]CatalogEntry{
		models.IncidentServiceDown: {
			Risks: []string{"restart may drop in-flight requests"},
			Steps: []models.RecoveryStep{
				{
					Action:            "health_check",
					Description:       "verify the service responds before forcing a restart",
					EstimatedDuration: 30 * time.Second,
					Validation:        models.StepValidation{Type: models.ValidationLog, Criteria: "ensure_service_running"},
				},
				{
					Action:            "service_restart",
					Description:       "ensure the desired instances of the service are running",
					EstimatedDuration: 2 * time.Minute,
					Validation:        models.StepValidation{Type: models.ValidationLog, Criteria: "ensure_service_running"},
					RollbackProcedure: "redirect_traffic",
					Params:            map[string]string{"target": "standby"},
				},
			},
		},
		models.IncidentHighErrorRate: {
			Risks: []string{"scale-out increases spend until scaled back"},
			Steps: []models.RecoveryStep{
				{
					Action:            "scale_out",
					Description:       "ensure the replica count matches the surge target",
					EstimatedDuration: 3 * time.Minute,
					Params:            map[string]string{"desiredCount": "4", "previousCount": "2"},
					Validation:        models.StepValidation{Type: models.ValidationLog, Criteria: "scale_service"},
					RollbackProcedure: "scale_in",
				},
			},
		},
		models.IncidentResourceExhaustion: {
			Risks: []string{"scale-out increases spend until scaled back"},
			Steps: []models.RecoveryStep{
				{
					Action:            "scale_out",
					Description:       "ensure the replica count matches the relief target",
					EstimatedDuration: 3 * time.Minute,
					Params:            map[string]string{"desiredCount": "6", "previousCount": "2"},
					Validation:        models.StepValidation{Type: models.ValidationLog, Criteria: "scale_service"},
					RollbackProcedure: "scale_in",
				},
				{
					Action:            "clear_pressure",
					Description:       "recycle saturated instances once capacity is in place",
					EstimatedDuration: 2 * time.Minute,
					Validation:        models.StepValidation{Type: models.ValidationLog, Criteria: "ensure_service_running"},
				},
			},
		},
		models.IncidentDataCorruption: {
			Risks: []string{"restore overwrites writes made after the backup point"},
			Steps: []models.RecoveryStep{
				{
					Action:            "restore_backup",
					Description:       "restore the affected resource from the latest verified backup",
					EstimatedDuration: 20 * time.Minute,
					Validation:        models.StepValidation{Type: models.ValidationManual, Criteria: "operator verifies restored data integrity"},
				},
			},
		},
		models.IncidentNetwork: {
			Risks: []string{"rerouting shifts load to the failover target"},
			Steps: []models.RecoveryStep{
				{
					Action:            "redirect_traffic",
					Description:       "route traffic to the healthy failover target",
					EstimatedDuration: 1 * time.Minute,
					Params:            map[string]string{"target": "failover", "primaryTarget": "primary"},
					Validation:        models.StepValidation{Type: models.ValidationLog, Criteria: "update_traffic_routing"},
					RollbackProcedure: "restore_traffic",
				},
			},
		},
	}}
}
