// Package hillclimb tunes per-task agent configuration by iterated runs: run
// the task, record the outcome, ask a meta-reasoner (or a heuristic when it
// is unreachable) for a better hint, persist, repeat. Configuration identity
// is a salted blake3 hash so unchanged configs are recognizable across runs.
package hillclimb

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// hashSalt versions the config hash; bump when the hashed tuple changes.
const hashSalt = "openagents-hillclimb-v1"

// ConfigInput is the tunable per-task agent configuration.
type ConfigInput struct {
	TaskID           string `json:"task_id"`
	Hint             string `json:"hint"`
	UseSkills        bool   `json:"use_skills"`
	MaxTurnsOverride *int   `json:"max_turns_override,omitempty"`
}

// Hash returns the salted blake3 identity of the config, hex-truncated to 16
// characters. Field order and encoding are fixed; identical tuples always
// hash identically.
func (c ConfigInput) Hash() string {
	maxTurns := ""
	if c.MaxTurnsOverride != nil {
		maxTurns = strconv.Itoa(*c.MaxTurnsOverride)
	}
	payload := fmt.Sprintf("%s\ntask_id=%s\nhint=%s\nuse_skills=%t\nmax_turns=%s",
		hashSalt, c.TaskID, c.Hint, c.UseSkills, maxTurns)
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// ChangeType enumerates config mutations.
type ChangeType string

const (
	ChangeKeep         ChangeType = "keep"
	ChangeUpdateHint   ChangeType = "update_hint"
	ChangeToggleSkills ChangeType = "toggle_skills"
	ChangeAdjustTurns  ChangeType = "adjust_turns"
)

// ConfigChange is one proposed mutation with its reasoning.
type ConfigChange struct {
	Type         ChangeType `json:"type"`
	Reasoning    string     `json:"reasoning"`
	NewHint      string     `json:"new_hint,omitempty"`
	NewUseSkills *bool      `json:"new_use_skills,omitempty"`
	NewMaxTurns  *int       `json:"new_max_turns,omitempty"`
}

// Apply returns the config after the change. A keep returns the identical
// tuple, so its hash is unchanged.
func Apply(cfg ConfigInput, change ConfigChange) ConfigInput {
	switch change.Type {
	case ChangeUpdateHint:
		cfg.Hint = strings.TrimSpace(change.NewHint)
	case ChangeToggleSkills:
		if change.NewUseSkills != nil {
			cfg.UseSkills = *change.NewUseSkills
		} else {
			cfg.UseSkills = !cfg.UseSkills
		}
	case ChangeAdjustTurns:
		cfg.MaxTurnsOverride = change.NewMaxTurns
	}
	return cfg
}
