package vfs

import (
	"sort"

	"github.com/cellstate/branchsync/index"
)

// JointEntry is one surfaced name in a directory's joint view: either a
// single writer's uncontested entry, or one of several concurrent
// versions disambiguated by a fingerprint suffix, per §4.F's conflict
// policy ("retain all unordered versions; the joint view disambiguates
// via a writer-id fingerprint suffix").
type JointEntry struct {
	DisplayName string
	Version     EntryVersion
}

// Joint resolves name's non-tombstone entries into their displayed form.
// A single surviving version keeps the bare name; multiple concurrent
// versions (none dominating another by VV) each get
// "name (fingerprint)" appended, sorted by fingerprint for determinism.
func (d *Directory) Joint(name string) []JointEntry {
	versions := d.Lookup(name)
	versions = reduceToConcurrentTips(versions)

	if len(versions) <= 1 {
		out := make([]JointEntry, len(versions))
		for i, v := range versions {
			out[i] = JointEntry{DisplayName: name, Version: v}
		}
		return out
	}

	out := make([]JointEntry, len(versions))
	for i, v := range versions {
		out[i] = JointEntry{DisplayName: name + " (" + v.Fingerprint() + ")", Version: v}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// JointListing returns every name's joint entries, flattened, sorted by
// display name.
func (d *Directory) JointListing() []JointEntry {
	var out []JointEntry
	for _, name := range d.sortedNames() {
		out = append(out, d.Joint(name)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// reduceToConcurrentTips drops any version dominated by another version
// of the same name, keeping only the maximal (tip) versions: a version
// that's strictly behind another writer's claim for the same name isn't a
// genuine conflict, just a stale copy that hasn't observed the merge yet.
func reduceToConcurrentTips(versions []EntryVersion) []EntryVersion {
	var out []EntryVersion
	for i, v := range versions {
		dominated := false
		for j, other := range versions {
			if i == j {
				continue
			}
			if index.Compare(v.VV, other.VV) == index.Less {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, v)
		}
	}
	return out
}
