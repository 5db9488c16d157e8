// Package report implements the Outcome Aggregator: it tallies per-server,
// per-relay, and per-file results into the final structured report, and
// defines the injected observer interface the rest of the engine emits
// progress through instead of touching a display layer directly (Design
// Notes §9). Grounded on notifications/metrics.go's counter shape and
// health/checks' status-aggregation style.
package report

import (
	"sync"

	"github.com/docker/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/sandwichfarm/nsyte-deploy/blobupload"
	"github.com/sandwichfarm/nsyte-deploy/publish"
)

// namespace mirrors the teacher's metrics.StorageNamespace/MiddlewareNamespace
// shape (registry/metrics/prometheus.go): one namespace per component.
var namespace = metrics.NewNamespace("nsyte", "deploy", nil)

var (
	filesCounter   = namespace.NewLabeledCounter("files", "files processed by outcome", "outcome")
	serverCounter  = namespace.NewLabeledCounter("server_jobs", "blob server jobs by outcome", "outcome")
	relayCounter   = namespace.NewLabeledCounter("relay_publishes", "relay publish attempts by outcome", "outcome")
)

func init() {
	metrics.Register(namespace)
}

// EventKind enumerates the stages the engine reports progress for.
type EventKind int

const (
	EventFileScanned EventKind = iota
	EventRelayDialFailed
	EventDiffComputed
	EventBlobUploadAttempt
	EventFileUploaded
	EventEventPublished
	EventManifestPublished
	EventDeletionPublished
	EventDeployComplete
)

// ProgressEvent is the single contract every producing component emits
// through instead of writing to a shared display or logger directly
// (Design Notes §9: "injected observer interface with a single
// well-defined contract").
type ProgressEvent struct {
	Kind    EventKind
	Path    string
	Server  string
	Relay   string
	Message string
	Err     error
}

// Observer receives ProgressEvents as the deploy proceeds.
type Observer interface {
	OnEvent(ProgressEvent)
}

// LogObserver is the default Observer: structured logrus output, one
// field set per event, matching the teacher's context.GetLogger(ctx)
// field conventions.
type LogObserver struct {
	Log *logrus.Entry
}

// NewLogObserver returns a LogObserver; a nil log falls back to the
// standard logger.
func NewLogObserver(log *logrus.Entry) *LogObserver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogObserver{Log: log}
}

func (o *LogObserver) OnEvent(ev ProgressEvent) {
	entry := o.Log.WithField("kind", ev.Kind)
	if ev.Path != "" {
		entry = entry.WithField("path", ev.Path)
	}
	if ev.Server != "" {
		entry = entry.WithField("server", ev.Server)
	}
	if ev.Relay != "" {
		entry = entry.WithField("relay", ev.Relay)
	}
	if ev.Err != nil {
		entry.WithError(ev.Err).Warn(ev.Message)
		return
	}
	entry.Info(ev.Message)
}

// MetricsObserver increments the package-level docker/go-metrics counters
// for every event; it is meant to be combined with a LogObserver via
// MultiObserver rather than used alone.
type MetricsObserver struct{}

func (MetricsObserver) OnEvent(ev ProgressEvent) {
	switch ev.Kind {
	case EventFileUploaded:
		outcome := "success"
		if ev.Err != nil {
			outcome = "failure"
		}
		filesCounter.WithValues(outcome).Inc(1)
	case EventBlobUploadAttempt:
		outcome := "success"
		if ev.Err != nil {
			outcome = "failure"
		}
		serverCounter.WithValues(outcome).Inc(1)
	case EventEventPublished:
		outcome := "accepted"
		if ev.Err != nil {
			outcome = "rejected"
		}
		relayCounter.WithValues(outcome).Inc(1)
	}
}

// MultiObserver fans one ProgressEvent out to every observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(ev ProgressEvent) {
	for _, o := range m {
		o.OnEvent(ev)
	}
}

// FileReport is the per-file section of the final report (spec §4.9).
type FileReport struct {
	Path           string
	Success        bool
	ServersOK      int
	ServersTotal   int
	RelaysAccepted int
	RelaysTotal    int
	Err            error
}

// Report is the structured, human-visible summary produced once a deploy
// finishes; it is the only artifact other components don't need to read
// (spec §4.9: "the aggregator is the only component that produces the
// human-visible report").
type Report struct {
	Files             []FileReport
	ManifestPublished bool
	ManifestAccepted  int
	ManifestTotal     int
	DeletionsAccepted int
	DeletionsTotal    int
	OverallSuccess    bool
}

// mu serializes concurrent Build calls; Build touches no metrics and
// does no I/O.
var mu sync.Mutex

// Build tallies upload outcomes and publish results into the final
// Report (spec §4.9: "tallies per-server success/total, per-relay
// accepted/total, per-file success with its error kind, and overall
// counts").
func Build(uploads []blobupload.FileOutcome, fileResults []publish.FileResult, manifestOutcomes []publish.RelayOutcome, manifestPublished bool, deletionOutcomes []publish.RelayOutcome) Report {
	mu.Lock()
	defer mu.Unlock()

	byPath := make(map[string]publish.FileResult, len(fileResults))
	for _, fr := range fileResults {
		byPath[fr.Path] = fr
	}

	var rep Report
	rep.ManifestPublished = manifestPublished
	rep.ManifestTotal = len(manifestOutcomes)
	for _, o := range manifestOutcomes {
		if o.Accepted {
			rep.ManifestAccepted++
		}
	}
	rep.DeletionsTotal = len(deletionOutcomes)
	for _, o := range deletionOutcomes {
		if o.Accepted {
			rep.DeletionsAccepted++
		}
	}

	allSucceeded := true
	for _, fo := range uploads {
		fr := FileReport{
			Path:         fo.File.Path,
			Success:      fo.Success,
			ServersTotal: len(fo.ServerOutcomes),
		}
		for _, so := range fo.ServerOutcomes {
			if so.Success || so.AlreadyExisted {
				fr.ServersOK++
			}
		}
		if pr, ok := byPath[fo.File.Path]; ok {
			fr.RelaysTotal = len(pr.RelayOutcomes)
			for _, ro := range pr.RelayOutcomes {
				if ro.Accepted {
					fr.RelaysAccepted++
				}
			}
		}
		if !fo.Success {
			allSucceeded = false
			for _, so := range fo.ServerOutcomes {
				if so.Err != nil {
					fr.Err = so.Err
					break
				}
			}
		}
		rep.Files = append(rep.Files, fr)
	}

	rep.OverallSuccess = allSucceeded && (rep.ManifestTotal == 0 || rep.ManifestAccepted > 0)
	return rep
}
