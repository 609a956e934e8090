package orchestration

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryResolveAndRemove(t *testing.T) {
	registry := newCorrelationRegistry()
	session := newSession(&recordingSink{}, DefaultTone)

	registry.register("job-1", session)

	resolved, ok := registry.resolve("job-1")
	if !ok || resolved != session {
		t.Fatalf("expected job-1 to resolve to its session")
	}

	registry.remove("job-1")
	if _, ok := registry.resolve("job-1"); ok {
		t.Fatalf("expected job-1 to be gone after removal")
	}
}

func TestRegistryResolveUnknownIdentity(t *testing.T) {
	registry := newCorrelationRegistry()
	if _, ok := registry.resolve("never-registered"); ok {
		t.Fatalf("expected unknown identity to not resolve")
	}
}

func TestRegistryConcurrentAccessAcrossIdentities(t *testing.T) {
	registry := newCorrelationRegistry()
	session := newSession(&recordingSink{}, DefaultTone)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			registry.register(id, session)
			if _, ok := registry.resolve(id); !ok {
				t.Errorf("expected %s to resolve after registration", id)
			}
			registry.remove(id)
		}()
	}
	wg.Wait()

	for i := range 50 {
		if _, ok := registry.resolve(fmt.Sprintf("job-%d", i)); ok {
			t.Fatalf("expected all identities removed, job-%d still present", i)
		}
	}
}
