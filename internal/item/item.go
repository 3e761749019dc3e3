// Package item implements InspectionItem definitions: reusable command,
// PromQL, and builtin check configurations, and their CRUD/export surface
// (spec §3, §9 tagged-variant config).
package item

import (
	"encoding/json"
	"time"
)

// CheckType names the kind of check an item performs.
type CheckType string

const (
	CheckCommand CheckType = "command"
	CheckPromQL  CheckType = "promql"

	CheckClusterVersion   CheckType = "cluster_version"
	CheckNodesStatus      CheckType = "nodes_status"
	CheckPodsStatus       CheckType = "pods_status"
	CheckEventsRecent     CheckType = "events_recent"
	CheckClusterCPUUsage  CheckType = "cluster_cpu_usage"
	CheckClusterMemUsage  CheckType = "cluster_memory_usage"
	CheckNodeCPUHotspots  CheckType = "node_cpu_hotspots"
	CheckNodeMemPressure  CheckType = "node_memory_pressure"
	CheckClusterDiskIO    CheckType = "cluster_disk_io"
)

// builtinKinds lists every CheckType with a hard-coded handler and no user
// config (spec §3 "builtin: no user config; handler is hard-coded").
var builtinKinds = map[CheckType]bool{
	CheckClusterVersion:  true,
	CheckNodesStatus:     true,
	CheckPodsStatus:      true,
	CheckEventsRecent:    true,
	CheckClusterCPUUsage: true,
	CheckClusterMemUsage: true,
	CheckNodeCPUHotspots: true,
	CheckNodeMemPressure: true,
	CheckClusterDiskIO:   true,
}

// IsBuiltin reports whether t names a fixed-handler builtin kind.
func IsBuiltin(t CheckType) bool { return builtinKinds[t] }

// IsKnown reports whether t is a recognised kind at all.
func IsKnown(t CheckType) bool {
	return t == CheckCommand || t == CheckPromQL || IsBuiltin(t)
}

// CommandConfig is the config variant for CheckCommand (spec §3).
type CommandConfig struct {
	CommandTemplate     string `json:"command_template"`
	Shell               bool   `json:"shell"`
	TimeoutSeconds      int    `json:"timeout_s"`
	SuccessMessage      string `json:"success_message,omitempty"`
	FailureMessage      string `json:"failure_message,omitempty"`
	SuggestionOnFail    string `json:"suggestion_on_fail,omitempty"`
	SuggestionOnSuccess string `json:"suggestion_on_success,omitempty"`
}

// Comparison is a PromQL threshold predicate naming the failure condition.
type Comparison string

const (
	CompareGT Comparison = ">"
	CompareLT Comparison = "<"
	CompareEQ Comparison = "=="
	CompareGE Comparison = ">="
	CompareLE Comparison = "<="
	CompareNE Comparison = "!="
)

// PromQLConfig is the config variant for CheckPromQL (spec §3).
type PromQLConfig struct {
	Expression      string     `json:"expression"`
	Comparison      Comparison `json:"comparison"`
	FailThreshold   float64    `json:"fail_threshold"`
	DetailTemplate  string     `json:"detail_template,omitempty"`
	SuggestionOnFail string    `json:"suggestion_on_fail,omitempty"`
	EmptyMessage    string     `json:"empty_message,omitempty"`
	SuggestionIfEmpty string   `json:"suggestion_if_empty,omitempty"`
}

// UnknownConfig is the fallback variant for a historical row whose
// check_type no longer has a recognised handler (spec §9).
type UnknownConfig struct {
	Raw map[string]any
}

// Config is the tagged-variant payload carried by InspectionItem.Config. At
// most one of Command/PromQL is non-nil; neither is set for builtin kinds;
// Unknown is set only when CheckType itself is unrecognised.
type Config struct {
	Command *CommandConfig
	PromQL  *PromQLConfig
	Unknown *UnknownConfig
}

// MarshalJSON emits whichever variant is populated, or {} for builtins.
func (c Config) MarshalJSON() ([]byte, error) {
	switch {
	case c.Command != nil:
		return json.Marshal(c.Command)
	case c.PromQL != nil:
		return json.Marshal(c.PromQL)
	case c.Unknown != nil:
		return json.Marshal(c.Unknown.Raw)
	default:
		return []byte("{}"), nil
	}
}

// DecodeConfig parses a raw JSON config object according to checkType,
// producing the matching tagged variant, or UnknownConfig when checkType
// itself is not recognised (spec §9).
func DecodeConfig(checkType CheckType, raw []byte) (Config, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch {
	case checkType == CheckCommand:
		var cfg CommandConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
		return Config{Command: &cfg}, nil
	case checkType == CheckPromQL:
		var cfg PromQLConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
		return Config{PromQL: &cfg}, nil
	case IsBuiltin(checkType):
		return Config{}, nil
	default:
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		return Config{Unknown: &UnknownConfig{Raw: m}}, nil
	}
}

// Item is one InspectionItem (spec §3).
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CheckType   CheckType `json:"check_type"`
	Config      Config    `json:"config"`
	IsArchived  bool      `json:"is_archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
