package library

import (
	"context"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addTrack(t *testing.T, s *Store, title, path string) Track {
	t.Helper()
	tr, err := s.UpsertTrack(Track{Title: title, Path: path, Duration: 180})
	if err != nil {
		t.Fatalf("upsert %s: %v", title, err)
	}
	return tr
}

func TestUpsertKeepsIdentity(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertTrack(Track{Title: "Tavern", Path: "/music/tavern.mp3", Duration: 120})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected a generated id")
	}
	if first.AddedAt.IsZero() {
		t.Fatal("expected added-at to be set")
	}
	if first.Source != SourceScan {
		t.Fatalf("source = %q, want %q", first.Source, SourceScan)
	}

	second, err := s.UpsertTrack(Track{Title: "Tavern Ambience", Path: "/music/tavern.mp3", Duration: 125})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed on re-upsert: %q vs %q", second.ID, first.ID)
	}
	if !second.AddedAt.Equal(first.AddedAt) {
		t.Fatalf("added-at changed on re-upsert: %v vs %v", second.AddedAt, first.AddedAt)
	}
	if second.Title != "Tavern Ambience" || second.Duration != 125 {
		t.Fatalf("metadata not refreshed: %+v", second)
	}

	byPath, err := s.TrackByPath("/music/tavern.mp3")
	if err != nil {
		t.Fatalf("track by path: %v", err)
	}
	if byPath.ID != first.ID {
		t.Fatalf("path lookup id = %q, want %q", byPath.ID, first.ID)
	}
}

func TestTrackNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Track("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.TrackByPath("/missing.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Collection("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTrackPrunesCollections(t *testing.T) {
	s := newTestStore(t)
	a := addTrack(t, s, "Alpha", "/music/a.mp3")
	b := addTrack(t, s, "Beta", "/music/b.mp3")

	holding, err := s.CreateCollection("battle")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	other, err := s.CreateCollection("calm")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	for _, id := range []string{a.ID, b.ID, a.ID} {
		if _, err := s.AddToCollection(holding.ID, id); err != nil {
			t.Fatalf("add to collection: %v", err)
		}
	}
	if _, err := s.AddToCollection(other.ID, b.ID); err != nil {
		t.Fatalf("add to collection: %v", err)
	}

	affected, err := s.DeleteTrack(a.ID)
	if err != nil {
		t.Fatalf("delete track: %v", err)
	}
	if len(affected) != 1 || affected[0] != holding.ID {
		t.Fatalf("affected = %v, want [%s]", affected, holding.ID)
	}

	if _, err := s.Track(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("track still present after delete: %v", err)
	}
	if _, err := s.TrackByPath("/music/a.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("path index still present after delete: %v", err)
	}
	got, err := s.Collection(holding.ID)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if len(got.TrackIDs) != 1 || got.TrackIDs[0] != b.ID {
		t.Fatalf("collection tracks = %v, want [%s]", got.TrackIDs, b.ID)
	}
}

func TestTracksFilterAndSort(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpsertTrack(Track{Title: "Zephyr", Artist: "Storm Choir", Path: "/music/wind/zephyr.mp3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertTrack(Track{Title: "Anvil", Artist: "Forge Band", Path: "/music/forge/anvil.mp3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertTrack(Track{Title: "Bellows", Artist: "Forge Band", Path: "/music/forge/bellows.mp3"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.Tracks("", "")
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Title != "Anvil" || all[1].Title != "Bellows" || all[2].Title != "Zephyr" {
		t.Fatalf("not sorted by title: %q %q %q", all[0].Title, all[1].Title, all[2].Title)
	}

	forge, err := s.Tracks("/music/forge", "")
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(forge) != 2 {
		t.Fatalf("folder filter len = %d, want 2", len(forge))
	}

	byArtist, err := s.Tracks("", "storm")
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(byArtist) != 1 || byArtist[0].Title != "Zephyr" {
		t.Fatalf("query filter = %+v, want Zephyr", byArtist)
	}
}

func TestCollectionLifecycle(t *testing.T) {
	s := newTestStore(t)
	a := addTrack(t, s, "Alpha", "/music/a.mp3")
	b := addTrack(t, s, "Beta", "/music/b.mp3")
	c := addTrack(t, s, "Gamma", "/music/c.mp3")

	if _, err := s.CreateCollection("  "); err == nil {
		t.Fatal("expected error for blank name")
	}

	coll, err := s.CreateCollection("dungeon")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		if _, err := s.AddToCollection(coll.ID, id); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := s.AddToCollection(coll.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("adding unknown track: err = %v, want ErrNotFound", err)
	}

	name := "deep dungeon"
	updated, err := s.UpdateCollection(coll.ID, &name, []string{c.ID, a.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "deep dungeon" {
		t.Fatalf("name = %q", updated.Name)
	}
	if len(updated.TrackIDs) != 2 || updated.TrackIDs[0] != c.ID || updated.TrackIDs[1] != a.ID {
		t.Fatalf("reorder = %v, want [%s %s]", updated.TrackIDs, c.ID, a.ID)
	}
	if !updated.UpdatedAt.After(coll.UpdatedAt) && !updated.UpdatedAt.Equal(coll.UpdatedAt) {
		t.Fatalf("updated-at went backwards: %v -> %v", coll.UpdatedAt, updated.UpdatedAt)
	}

	if _, err := s.UpdateCollection(coll.ID, nil, []string{"nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replacing with unknown track: err = %v, want ErrNotFound", err)
	}

	if _, err := s.AddToCollection(coll.ID, a.ID); err != nil {
		t.Fatalf("add duplicate: %v", err)
	}
	pruned, err := s.RemoveFromCollection(coll.ID, a.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, id := range pruned.TrackIDs {
		if id == a.ID {
			t.Fatalf("remove left an occurrence: %v", pruned.TrackIDs)
		}
	}

	if err := s.DeleteCollection(coll.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Collection(coll.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("collection survived delete: %v", err)
	}
	if err := s.DeleteCollection(coll.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: err = %v, want ErrNotFound", err)
	}
}

func TestCollectionsSortedByName(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"travel", "ambience", "battle"} {
		if _, err := s.CreateCollection(name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	colls, err := s.Collections()
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if len(colls) != 3 {
		t.Fatalf("len = %d, want 3", len(colls))
	}
	if colls[0].Name != "ambience" || colls[1].Name != "battle" || colls[2].Name != "travel" {
		t.Fatalf("not sorted: %q %q %q", colls[0].Name, colls[1].Name, colls[2].Name)
	}
}

func TestFolders(t *testing.T) {
	s := newTestStore(t)
	addTrack(t, s, "A", "/music/forge/a.mp3")
	addTrack(t, s, "B", "/music/forge/b.mp3")
	addTrack(t, s, "C", "/music/wind/c.mp3")

	folders, err := s.Folders()
	if err != nil {
		t.Fatalf("folders: %v", err)
	}
	if len(folders) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(folders), folders)
	}
	if folders[0].Path != "/music/forge" || folders[0].Tracks != 2 {
		t.Fatalf("folders[0] = %+v", folders[0])
	}
	if folders[1].Path != "/music/wind" || folders[1].Tracks != 1 {
		t.Fatalf("folders[1] = %+v", folders[1])
	}
}

func TestPlaylistStoreSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addTrack(t, s, "Alpha", "/music/a.mp3")
	b := addTrack(t, s, "Beta", "/music/b.mp3")
	c := addTrack(t, s, "Gamma", "/music/c.mp3")

	coll, err := s.CreateCollection("set")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		if _, err := s.AddToCollection(coll.ID, id); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	ref, err := s.Resolve(ctx, b.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.ID != b.ID || ref.Title != "Beta" || ref.Duration != 180 {
		t.Fatalf("ref = %+v", ref)
	}
	if _, err := s.Resolve(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve unknown: err = %v, want ErrNotFound", err)
	}

	at, err := s.TrackAt(ctx, coll.ID, 1)
	if err != nil {
		t.Fatalf("track at: %v", err)
	}
	if at.ID != b.ID {
		t.Fatalf("track at 1 = %q, want %q", at.ID, b.ID)
	}
	if _, err := s.TrackAt(ctx, coll.ID, 3); err == nil {
		t.Fatal("expected error for out-of-range index")
	}

	if n, ok, err := s.AdjacentIndex(ctx, coll.ID, 1, 1); err != nil || !ok || n != 2 {
		t.Fatalf("next from 1 = (%d, %v, %v), want (2, true, nil)", n, ok, err)
	}
	if n, ok, err := s.AdjacentIndex(ctx, coll.ID, 1, -1); err != nil || !ok || n != 0 {
		t.Fatalf("prev from 1 = (%d, %v, %v), want (0, true, nil)", n, ok, err)
	}
	if _, ok, err := s.AdjacentIndex(ctx, coll.ID, 2, 1); err != nil || ok {
		t.Fatalf("next past end = (ok=%v, err=%v), want no neighbour", ok, err)
	}
	if _, ok, err := s.AdjacentIndex(ctx, coll.ID, 0, -1); err != nil || ok {
		t.Fatalf("prev before start = (ok=%v, err=%v), want no neighbour", ok, err)
	}
	if _, ok, err := s.AdjacentIndex(ctx, "ghost", 0, 1); err != nil || ok {
		t.Fatalf("missing collection = (ok=%v, err=%v), want no neighbour and no error", ok, err)
	}

	if n, err := s.Len(ctx, coll.ID); err != nil || n != 3 {
		t.Fatalf("len = (%d, %v), want (3, nil)", n, err)
	}
	if n, err := s.Len(ctx, "ghost"); err != nil || n != 0 {
		t.Fatalf("len of missing = (%d, %v), want (0, nil)", n, err)
	}
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr := addTrack(t, s, "Persist", "/music/p.mp3")
	coll, err := s.CreateCollection("keep")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddToCollection(coll.ID, tr.ID); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })
	got, err := s2.Track(tr.ID)
	if err != nil {
		t.Fatalf("track after reopen: %v", err)
	}
	if got.Title != "Persist" {
		t.Fatalf("title = %q", got.Title)
	}
	coll2, err := s2.Collection(coll.ID)
	if err != nil {
		t.Fatalf("collection after reopen: %v", err)
	}
	if len(coll2.TrackIDs) != 1 || coll2.TrackIDs[0] != tr.ID {
		t.Fatalf("collection tracks = %v", coll2.TrackIDs)
	}
	if !coll2.CreatedAt.Equal(coll.CreatedAt) {
		t.Fatalf("created-at changed across reopen: %v vs %v", coll2.CreatedAt, coll.CreatedAt)
	}
}
