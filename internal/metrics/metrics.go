package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	childrenActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "brood",
		Name:      "children_active",
		Help:      "Number of live children by kind.",
	}, []string{"kind"})

	childrenSpawned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brood",
		Name:      "children_spawned_total",
		Help:      "Total number of children spawned by kind.",
	}, []string{"kind"})

	childrenFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brood",
		Name:      "children_failed_total",
		Help:      "Total number of children that exited with a failure by kind.",
	}, []string{"kind"})

	childDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brood",
		Name:      "child_duration_seconds",
		Help:      "Lifetime of reaped children in seconds.",
	}, []string{"kind"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "brood",
		Name:      "build_info",
		Help:      "Build metadata for the running brood binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(childrenActive, childrenSpawned, childrenFailed, childDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all brood metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ChildSpawned records a newly registered child.
func ChildSpawned(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	childrenSpawned.WithLabelValues(kind).Inc()
	childrenActive.WithLabelValues(kind).Inc()
}

// ChildExited records a reaped child and its lifetime.
func ChildExited(kind string, failed bool, lifetime time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	childrenActive.WithLabelValues(kind).Dec()
	childDuration.WithLabelValues(kind).Observe(lifetime.Seconds())
	if failed {
		childrenFailed.WithLabelValues(kind).Inc()
	}
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
