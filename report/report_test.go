package report

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/nsyte-deploy/blobupload"
	"github.com/sandwichfarm/nsyte-deploy/fileset"
	"github.com/sandwichfarm/nsyte-deploy/publish"
)

func TestBuildMarksFileSuccessOnPartialServerSuccess(t *testing.T) {
	serverOutcomes := []blobupload.ServerOutcome{
		{Server: "s1", Success: true},
		{Server: "s2", Err: errors.New("500")},
	}
	uploads := []blobupload.FileOutcome{
		{
			File:           fileset.FileEntry{Path: "/a.html"},
			Success:        blobupload.FileSucceeded(serverOutcomes),
			ServerOutcomes: serverOutcomes,
		},
	}
	rep := Build(uploads, nil, nil, false, nil)
	require.Len(t, rep.Files, 1)
	require.True(t, rep.Files[0].Success)
	require.Equal(t, 1, rep.Files[0].ServersOK)
	require.Equal(t, 2, rep.Files[0].ServersTotal)
}

func TestBuildOverallFailureWhenAllRelaysReject(t *testing.T) {
	uploads := []blobupload.FileOutcome{
		{File: fileset.FileEntry{Path: "/a.html"}, Success: true, ServerOutcomes: []blobupload.ServerOutcome{{Success: true}}},
	}
	manifestOutcomes := []publish.RelayOutcome{
		{URL: "r1", Accepted: false, Message: "rate-limited"},
		{URL: "r2", Accepted: false, Message: "rate-limited"},
	}
	rep := Build(uploads, nil, manifestOutcomes, true, nil)
	require.False(t, rep.OverallSuccess)
	require.Equal(t, 0, rep.ManifestAccepted)
	require.Equal(t, 2, rep.ManifestTotal)
}

func TestBuildOverallSuccessWhenEverythingAccepted(t *testing.T) {
	uploads := []blobupload.FileOutcome{
		{File: fileset.FileEntry{Path: "/a.html"}, Success: true, ServerOutcomes: []blobupload.ServerOutcome{{Success: true}}},
	}
	manifestOutcomes := []publish.RelayOutcome{{URL: "r1", Accepted: true}}
	rep := Build(uploads, nil, manifestOutcomes, true, nil)
	require.True(t, rep.OverallSuccess)
}

func TestLogObserverEmitsFieldsForEachEventKind(t *testing.T) {
	log, hook := test.NewNullLogger()
	obs := NewLogObserver(logrus.NewEntry(log))

	obs.OnEvent(ProgressEvent{Kind: EventFileUploaded, Path: "/a.html", Server: "s1", Message: "uploaded"})
	require.Len(t, hook.Entries, 1)
	require.Equal(t, "/a.html", hook.Entries[0].Data["path"])
	require.Equal(t, "s1", hook.Entries[0].Data["server"])

	obs.OnEvent(ProgressEvent{Kind: EventBlobUploadAttempt, Err: errors.New("boom")})
	require.Len(t, hook.Entries, 2)
	require.Equal(t, logrus.WarnLevel, hook.Entries[1].Level)
}

func TestMultiObserverFansOutToEveryObserver(t *testing.T) {
	log, hook := test.NewNullLogger()
	logObs := NewLogObserver(logrus.NewEntry(log))
	multi := MultiObserver{logObs, MetricsObserver{}}

	multi.OnEvent(ProgressEvent{Kind: EventFileUploaded, Path: "/a.html"})
	require.Len(t, hook.Entries, 1)
}
