package dispatcher

import "testing"

func TestDispatcherResolveUnknownSession(t *testing.T) {
	d := New()
	if _, ok := d.Resolve("missing"); ok {
		t.Fatal("expected not found for an unknown model session")
	}
}

func TestDispatcherUpdateAndResolve(t *testing.T) {
	d := New()
	d.UpdateModelRoutes([]RouteUpdate{
		{ModelSessionID: "m1", Backends: []Backend{{ID: "b1", Throughput: 1}}},
	})
	id, ok := d.Resolve("m1")
	if !ok || id != "b1" {
		t.Fatalf("expected b1 resolved, got %q ok=%v", id, ok)
	}
}

func TestDispatcherUpdateEmptyBackendsYieldsNotFound(t *testing.T) {
	d := New()
	d.UpdateModelRoutes([]RouteUpdate{{ModelSessionID: "m1", Backends: nil}})
	if _, ok := d.Resolve("m1"); ok {
		t.Fatal("expected not found with an empty backend list")
	}
}

func TestDispatcherSessionsListsKnownModelSessions(t *testing.T) {
	d := New()
	d.UpdateModelRoutes([]RouteUpdate{
		{ModelSessionID: "m1", Backends: []Backend{{ID: "b1", Throughput: 1}}},
		{ModelSessionID: "m2", Backends: []Backend{{ID: "b2", Throughput: 1}}},
	})
	sessions := d.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %v", sessions)
	}
}

func TestDispatcherRouteSnapshotUnknownSession(t *testing.T) {
	d := New()
	if _, ok := d.RouteSnapshot("missing"); ok {
		t.Fatal("expected not found for route snapshot of unknown session")
	}
}

func TestDispatcherRouteSnapshotReflectsUpdates(t *testing.T) {
	d := New()
	d.UpdateModelRoutes([]RouteUpdate{
		{ModelSessionID: "m1", Backends: []Backend{{ID: "b1", Throughput: 2}, {ID: "b2", Throughput: 1}}},
	})
	snap, ok := d.RouteSnapshot("m1")
	if !ok {
		t.Fatal("expected route snapshot found")
	}
	if len(snap.Backends) != 2 {
		t.Fatalf("expected 2 backends in snapshot, got %d", len(snap.Backends))
	}
	if snap.TotalThroughput != 3 {
		t.Fatalf("expected total throughput 3, got %v", snap.TotalThroughput)
	}
}
