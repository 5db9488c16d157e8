package publish

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/nsyte-deploy/blobupload"
	"github.com/sandwichfarm/nsyte-deploy/fileset"
	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
)

type fakeSigner struct{}

func (fakeSigner) Sign(_ context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error) {
	ev := tmpl.ToNostrTemplate()
	ev.PubKey = "abc123"
	return &nostrevent.Event{Event: ev}, nil
}

type fakePublisher struct {
	published []nostr.Event
	outcomes  []RelayOutcome
}

func (f *fakePublisher) Publish(_ context.Context, ev nostr.Event) []RelayOutcome {
	f.published = append(f.published, ev)
	return f.outcomes
}

func TestPublishFileMappingsSkipsFilesWithNoServerSuccess(t *testing.T) {
	outcomes := []blobupload.FileOutcome{
		{
			File:           fileset.FileEntry{Path: "/a.html", SHA256: "h1"},
			ServerOutcomes: []blobupload.ServerOutcome{{Server: "s1", Success: true}},
		},
		{
			File:           fileset.FileEntry{Path: "/b.html", SHA256: "h2"},
			ServerOutcomes: []blobupload.ServerOutcome{{Server: "s1", Err: assertErr{}}},
		},
	}
	pub := &fakePublisher{outcomes: []RelayOutcome{{URL: "r1", Accepted: true}}}

	results, err := PublishFileMappings(context.Background(), fakeSigner{}, pub, outcomes, nostr.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "/a.html", results[0].Path)
	require.Len(t, pub.published, 1)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestPublishFileMappingsIncludesFileWithPartialServerSuccess(t *testing.T) {
	outcomes := []blobupload.FileOutcome{
		{
			File: fileset.FileEntry{Path: "/a.html", SHA256: "h1"},
			ServerOutcomes: []blobupload.ServerOutcome{
				{Server: "s1", Success: true},
				{Server: "s2", Err: assertErr{}},
			},
		},
	}
	pub := &fakePublisher{}

	results, err := PublishFileMappings(context.Background(), fakeSigner{}, pub, outcomes, nostr.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].IncludeInManifest)
}

func TestPublishManifestSortsEntriesLexicographically(t *testing.T) {
	pub := &fakePublisher{}
	entries := []nostrevent.ManifestEntry{
		{Path: "/z.html", SHA256: "hz"},
		{Path: "/a.html", SHA256: "ha"},
	}

	_, err := PublishManifest(context.Background(), fakeSigner{}, pub, entries, ManifestMetadata{SiteID: "site"}, nostr.Now())
	require.NoError(t, err)
	require.Len(t, pub.published, 1)

	var fTags [][2]string
	for _, tag := range pub.published[0].Tags {
		if tag[0] == "f" {
			fTags = append(fTags, [2]string{tag[1], tag[2]})
		}
	}
	require.Equal(t, [][2]string{{"/a.html", "ha"}, {"/z.html", "hz"}}, fTags)
}

func TestPublishDeletionsNoOpWhenEmpty(t *testing.T) {
	pub := &fakePublisher{}
	outs, err := PublishDeletions(context.Background(), fakeSigner{}, pub, "pk", nil, nostr.Now())
	require.NoError(t, err)
	require.Nil(t, outs)
	require.Empty(t, pub.published)
}

func TestPublishDeletionsPublishesSingleEventForAllPaths(t *testing.T) {
	pub := &fakePublisher{outcomes: []RelayOutcome{{URL: "r1", Accepted: true}}}
	outs, err := PublishDeletions(context.Background(), fakeSigner{}, pub, "pk", []string{"/old.html", "/other.html"}, nostr.Now())
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Len(t, pub.published, 1)
	require.Len(t, pub.published[0].Tags, 2)
}

func TestShouldRepublishManifest(t *testing.T) {
	require.True(t, ShouldRepublishManifest(true, 0, false))
	require.True(t, ShouldRepublishManifest(false, 3, false))
	require.True(t, ShouldRepublishManifest(false, 0, true))
	require.False(t, ShouldRepublishManifest(false, 0, false))
}
