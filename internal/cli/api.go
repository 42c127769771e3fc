package cli

import (
	stdcontext "context"
	"time"

	"github.com/Paintersrp/brood"
	"github.com/Paintersrp/brood/internal/api"
	httpapi "github.com/Paintersrp/brood/internal/api/http"
	"github.com/Paintersrp/brood/internal/logflags"
)

// groupController exposes a Group's registry snapshot to the status server.
type groupController struct {
	group *brood.Group
}

func (c *groupController) Procs(ctx stdcontext.Context) (*api.ProcsReport, error) {
	procs := c.group.Procs()
	report := &api.ProcsReport{
		GeneratedAt: time.Now().UTC(),
		Active:      len(procs),
		Procs:       make([]api.ProcReport, 0, len(procs)),
	}
	for _, p := range procs {
		report.Procs = append(report.Procs, api.ProcReport{
			ID:        p.ID(),
			Pid:       p.Pid(),
			Name:      p.Name(),
			Worker:    p.Worker(),
			Kind:      string(p.Kind()),
			StartedAt: p.StartedAt(),
		})
	}
	return report, nil
}

// serveStatus starts the optional status server when addr is set. The server
// drains when ctx ends.
func serveStatus(ctx stdcontext.Context, group *brood.Group, addr string) error {
	if addr == "" {
		return nil
	}
	server, err := httpapi.NewServer(httpapi.Config{
		Addr:       addr,
		Controller: &groupController{group: group},
	})
	if err != nil {
		return err
	}
	go func() {
		if err := server.Run(ctx); err != nil {
			logflags.CLILogger().WithError(err).Warn("status server stopped")
		}
	}()
	return nil
}
