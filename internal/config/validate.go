package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var taskNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Validate checks the taskfile for structural errors. It reports every
// problem it finds.
func (t *Taskfile) Validate() error {
	var errs []error

	if t.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(t.Tasks) == 0 {
		errs = append(errs, errors.New("at least one task is required"))
	}

	names := make([]string, 0, len(t.Tasks))
	for name := range t.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		task := t.Tasks[name]
		if !taskNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("task %q: invalid name", name))
		}
		if task == nil {
			errs = append(errs, fmt.Errorf("%s: task definition is empty", taskField(name, "")))
			continue
		}
		if len(task.Command) == 0 {
			errs = append(errs, fmt.Errorf("%s: command is required", taskField(name, "command")))
		}
		if task.Workers < 0 {
			errs = append(errs, fmt.Errorf("%s: workers must not be negative", taskField(name, "workers")))
		}
		if task.Timeout.Duration < 0 {
			errs = append(errs, fmt.Errorf("%s: timeout must not be negative", taskField(name, "timeout")))
		}
		if task.Loop != nil {
			if task.Loop.Every.Duration < 0 {
				errs = append(errs, fmt.Errorf("%s: every must not be negative", taskField(name, "loop.every")))
			}
			if bo := task.Loop.Backoff; bo != nil && bo.Max.Duration < bo.Min.Duration {
				errs = append(errs, fmt.Errorf("%s: max must not be below min", taskField(name, "loop.backoff")))
			}
		}
		for _, code := range task.SuppressExits {
			if code < 1 || code > 255 {
				errs = append(errs, fmt.Errorf("%s: exit code %d out of range", taskField(name, "suppressExits"), code))
			}
		}
	}

	return errors.Join(errs...)
}

func taskField(name, field string) string {
	if field == "" {
		return fmt.Sprintf("tasks.%s", name)
	}
	return fmt.Sprintf("tasks.%s.%s", name, field)
}
