package config

import (
	"fmt"
	"time"
)

const (
	defaultBackoffMin    = time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffFactor = 2.0
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Taskfile mirrors the brood.yaml document structure.
type Taskfile struct {
	Version  string               `yaml:"version"`
	Batch    BatchMeta            `yaml:"batch"`
	Defaults Defaults             `yaml:"defaults"`
	Tasks    map[string]*TaskSpec `yaml:"tasks"`
}

// BatchMeta contains metadata about the taskfile document.
type BatchMeta struct {
	Name    string `yaml:"name"`
	Workdir string `yaml:"workdir"`
}

// Defaults captures default policies applied to tasks.
type Defaults struct {
	Timeout Duration       `yaml:"timeout"`
	Restart *RestartPolicy `yaml:"restart"`
}

// RestartPolicy describes how failing loop iterations are retried.
type RestartPolicy struct {
	MaxRetries int          `yaml:"maxRetries"`
	Backoff    *BackoffSpec `yaml:"backoff"`
}

// BackoffSpec bounds the delay between restart attempts.
type BackoffSpec struct {
	Min    Duration `yaml:"min"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
}

// LoopSpec makes a task body repeat.
type LoopSpec struct {
	Every      Duration     `yaml:"every"`
	MaxRetries *int         `yaml:"maxRetries"`
	Backoff    *BackoffSpec `yaml:"backoff"`
}

// TaskSpec describes a single task in the taskfile.
type TaskSpec struct {
	Command       []string          `yaml:"command"`
	Workers       int               `yaml:"workers"`
	Env           map[string]string `yaml:"env"`
	EnvFromFile   string            `yaml:"envFromFile"`
	Dir           string            `yaml:"dir"`
	Timeout       Duration          `yaml:"timeout"`
	Loop          *LoopSpec         `yaml:"loop"`
	SuppressExits []int             `yaml:"suppressExits"`

	ResolvedDir string `yaml:"-"`
}

// ApplyDefaults fills unset task fields from the document defaults and
// normalizes restart policies.
func (t *Taskfile) ApplyDefaults() error {
	for _, task := range t.Tasks {
		if task == nil {
			continue
		}
		if task.Workers == 0 {
			task.Workers = 1
		}
		if !task.Timeout.IsSet() && t.Defaults.Timeout.IsSet() {
			task.Timeout = t.Defaults.Timeout
		}
		if task.Loop != nil {
			if task.Loop.MaxRetries == nil && t.Defaults.Restart != nil {
				retries := t.Defaults.Restart.MaxRetries
				task.Loop.MaxRetries = &retries
			}
			if task.Loop.Backoff == nil && t.Defaults.Restart != nil && t.Defaults.Restart.Backoff != nil {
				dup := *t.Defaults.Restart.Backoff
				task.Loop.Backoff = &dup
			}
			task.Loop.Backoff = normalizeBackoff(task.Loop.Backoff)
		}
	}
	return nil
}

func normalizeBackoff(spec *BackoffSpec) *BackoffSpec {
	out := BackoffSpec{
		Min:    Duration{Duration: defaultBackoffMin},
		Max:    Duration{Duration: defaultBackoffMax},
		Factor: defaultBackoffFactor,
	}
	if spec != nil {
		if spec.Min.Duration > 0 {
			out.Min = spec.Min
		}
		if spec.Max.Duration > 0 {
			out.Max = spec.Max
		}
		if spec.Factor > 0 {
			out.Factor = spec.Factor
		}
	}
	if out.Max.Duration < out.Min.Duration {
		out.Max = out.Min
	}
	if out.Factor <= 1 {
		out.Factor = defaultBackoffFactor
	}
	return &out
}
