package api

import (
	stdcontext "context"
	"time"
)

// ProcReport describes one live child handle.
type ProcReport struct {
	ID        int64     `json:"id"`
	Pid       int       `json:"pid"`
	Name      string    `json:"name"`
	Worker    int       `json:"worker"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

// ProcsReport is the snapshot returned by the status endpoint.
type ProcsReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Active      int          `json:"active"`
	Procs       []ProcReport `json:"procs"`
}

// Controller exposes the registry snapshot required by status servers.
type Controller interface {
	Procs(stdcontext.Context) (*ProcsReport, error)
}
