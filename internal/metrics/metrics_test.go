package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
)

func TestObserveOutcome(t *testing.T) {
	m := New()

	m.ObserveOutcome("temperature", reconcile.Outcome{Applied: true, Appended: true})
	m.ObserveOutcome("temperature", reconcile.Outcome{Applied: true})
	m.ObserveOutcome("link", reconcile.Outcome{Applied: true, Reboot: true})
	m.ObserveOutcome("temperature", reconcile.Outcome{Rejected: true, Reason: reconcile.ReasonStale})

	if got := testutil.ToFloat64(m.applied.WithLabelValues("temperature")); got != 2 {
		t.Fatalf("expected 2 applied temperature events, got %f", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues(reconcile.ReasonStale)); got != 1 {
		t.Fatalf("expected 1 stale rejection, got %f", got)
	}
	if got := testutil.ToFloat64(m.reboots); got != 1 {
		t.Fatalf("expected 1 reboot, got %f", got)
	}
}

func TestWritesAndDrops(t *testing.T) {
	m := New()

	m.Write("store", true)
	m.Write("store", false)
	m.Write("bus", false)
	m.Dropped("malformed")
	m.Reconnect()

	if got := testutil.ToFloat64(m.writes.WithLabelValues("store", "error")); got != 1 {
		t.Fatalf("expected 1 failed store write, got %f", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("bus", "error")); got != 1 {
		t.Fatalf("expected 1 failed bus write, got %f", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("malformed")); got != 1 {
		t.Fatalf("expected 1 dropped message, got %f", got)
	}
	if got := testutil.ToFloat64(m.reconnects); got != 1 {
		t.Fatalf("expected 1 reconnect, got %f", got)
	}
}

func TestObserveSnapshotLinkGauges(t *testing.T) {
	m := New()

	s := reconcile.Snapshot{Connectivity: reconcile.Connectivity{
		DeviceNetwork: reconcile.LinkConnected,
		CloudLink:     reconcile.LinkError,
		BusLink:       reconcile.LinkConnecting,
	}}
	m.ObserveSnapshot(s, 42, 0)

	if got := testutil.ToFloat64(m.links.WithLabelValues(LinkBus, "CONNECTING")); got != 1 {
		t.Fatalf("expected bus CONNECTING=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.links.WithLabelValues(LinkBus, "CONNECTED")); got != 0 {
		t.Fatalf("expected bus CONNECTED=0, got %f", got)
	}
	if got := testutil.ToFloat64(m.samples); got != 42 {
		t.Fatalf("expected 42 samples, got %f", got)
	}

	s.Connectivity.BusLink = reconcile.LinkConnected
	m.ObserveSnapshot(s, 43, 0)
	if got := testutil.ToFloat64(m.links.WithLabelValues(LinkBus, "CONNECTING")); got != 0 {
		t.Fatalf("expected bus CONNECTING=0 after transition, got %f", got)
	}
}

func TestObserveSnapshotEvictions(t *testing.T) {
	m := New()
	var s reconcile.Snapshot
	m.ObserveSnapshot(s, 500, 3)
	m.ObserveSnapshot(s, 500, 3)
	m.ObserveSnapshot(s, 500, 10)
	if got := testutil.ToFloat64(m.evicted); got != 10 {
		t.Fatalf("expected 10 evictions, got %f", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reconnect()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "heater_reconnects_total 1") {
		t.Errorf("expected reconnect counter in output:\n%s", body)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Reconnect()
	if got := testutil.ToFloat64(b.reconnects); got != 0 {
		t.Fatalf("registries should be independent, got %f", got)
	}
}
