package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestWriteErrorIs(t *testing.T) {
	denied := &WriteError{Kind: PermissionDenied, Path: PathSchedule, Err: errors.New("rules")}
	transient := &WriteError{Kind: TransientFailure, Path: PathSchedule, Err: errors.New("timeout")}

	if !errors.Is(denied, ErrPermissionDenied) || errors.Is(denied, ErrTransient) {
		t.Error("permission denied error should match only ErrPermissionDenied")
	}
	if !errors.Is(transient, ErrTransient) || errors.Is(transient, ErrPermissionDenied) {
		t.Error("transient error should match only ErrTransient")
	}

	wrapped := fmt.Errorf("publish: %w", denied)
	if !errors.Is(wrapped, ErrPermissionDenied) {
		t.Error("wrapped error should still match")
	}
	if Retryable(wrapped) {
		t.Error("permission denied must not be retryable")
	}
	if !Retryable(transient) {
		t.Error("transient should be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Error("plain error is not a write error")
	}
}

func TestAuthGateCollapsesConcurrentCalls(t *testing.T) {
	var gate AuthGate
	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})

	login := func(ctx context.Context) (Identity, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return AnonymousIdentity(), nil
	}

	var wg sync.WaitGroup
	ids := make([]Identity, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := gate.Do(context.Background(), login)
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			ids[i] = id
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected 1 login, got %d", calls)
	}
	for i := range ids {
		if ids[i].UID != ids[0].UID {
			t.Errorf("caller %d got different identity", i)
		}
	}

	// cached afterwards
	if _, err := gate.Do(context.Background(), login); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected cached identity, login ran %d times", calls)
	}
}

func TestAuthGateDoesNotCacheFailure(t *testing.T) {
	var gate AuthGate
	fail := true
	login := func(ctx context.Context) (Identity, error) {
		if fail {
			return Identity{}, errors.New("offline")
		}
		return Identity{UID: "u1"}, nil
	}
	if _, err := gate.Do(context.Background(), login); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	id, err := gate.Do(context.Background(), login)
	if err != nil || id.UID != "u1" {
		t.Fatalf("got (%+v, %v)", id, err)
	}
	gate.Reset()
	if _, ok := gate.Current(); ok {
		t.Error("expected no identity after Reset")
	}
}

func TestFakeStoreWatchLifecycle(t *testing.T) {
	f := NewFakeStore()
	f.Set(PathSystem, Document{"rssi": -60})

	var got []Document
	unsub, err := f.Watch(context.Background(), PathSystem, func(d Document, ok bool) {
		if ok {
			got = append(got, d)
		} else {
			got = append(got, nil)
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected initial value, got %d callbacks", len(got))
	}

	if err := f.Write(context.Background(), PathSystem, Document{"rssi": -55}); err != nil {
		t.Fatal(err)
	}
	f.Delete(PathSystem)
	if len(got) != 3 || got[2] != nil {
		t.Fatalf("unexpected callbacks: %v", got)
	}

	unsub()
	unsub()
	f.Set(PathSystem, Document{"rssi": -50})
	if len(got) != 3 {
		t.Errorf("callback after unsubscribe: %d", len(got))
	}
	if f.Watchers(PathSystem) != 0 {
		t.Errorf("expected no watchers, got %d", f.Watchers(PathSystem))
	}
}

func TestFakeStoreWriteError(t *testing.T) {
	f := NewFakeStore()
	f.WriteErrors[PathSchedule] = &WriteError{Kind: PermissionDenied, Path: PathSchedule, Err: errors.New("denied")}
	err := f.Write(context.Background(), PathSchedule, Document{"am_time": "07:00"})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if f.WriteCount() != 0 {
		t.Error("failed write should not be recorded")
	}
}
