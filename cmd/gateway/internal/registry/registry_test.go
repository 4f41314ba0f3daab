package registry_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/fanout"
	"github.com/shubham-shewale/quote-fanout/cmd/gateway/internal/registry"
)

func setup() (*registry.Registry, *fanout.Manager) {
	mgr := fanout.NewManager(8, zap.NewNop())
	return registry.New(mgr, 8, 16, zap.NewNop()), mgr
}

func TestRegistry_Subscribe(t *testing.T) {
	r, mgr := setup()

	if err := r.Subscribe("c1", "AAPL"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if sym, ok := r.SymbolOf("c1"); !ok || sym != "AAPL" {
		t.Errorf("Expected c1 -> AAPL, got %q (%v)", sym, ok)
	}
	if subs := r.SubscribersOf("AAPL"); len(subs) != 1 || subs[0] != "c1" {
		t.Errorf("Expected [c1], got %v", subs)
	}
	if mgr.ActiveChannels() != 1 {
		t.Errorf("Expected 1 channel, got %d", mgr.ActiveChannels())
	}
}

func TestRegistry_Subscribe_Invalid(t *testing.T) {
	r, _ := setup()

	if err := r.Subscribe("", "AAPL"); !errors.Is(err, registry.ErrInvalidSubscription) {
		t.Errorf("Expected ErrInvalidSubscription for empty handle, got %v", err)
	}
	if err := r.Subscribe("c1", ""); !errors.Is(err, registry.ErrInvalidSubscription) {
		t.Errorf("Expected ErrInvalidSubscription for empty symbol, got %v", err)
	}
}

func TestRegistry_Subscribe_Idempotency(t *testing.T) {
	r, mgr := setup()

	r.Subscribe("c1", "AAPL")
	r.Subscribe("c1", "AAPL")

	if mgr.Created() != 1 {
		t.Errorf("Re-subscribing should not recreate the channel, created %d", mgr.Created())
	}
	if subs := r.SubscribersOf("AAPL"); len(subs) != 1 {
		t.Errorf("Expected a single subscriber, got %v", subs)
	}
}

func TestRegistry_Subscribe_ReplacesPriorSymbol(t *testing.T) {
	r, mgr := setup()

	r.Subscribe("c1", "AAPL")
	r.Subscribe("c2", "AAPL")
	r.Subscribe("c1", "TSLA")

	if sym, _ := r.SymbolOf("c1"); sym != "TSLA" {
		t.Errorf("Expected c1 -> TSLA, got %s", sym)
	}
	if subs := r.SubscribersOf("AAPL"); len(subs) != 1 || subs[0] != "c2" {
		t.Errorf("c1 should have left AAPL, got %v", subs)
	}

	r.Subscribe("c2", "TSLA")
	if _, ok := mgr.Channel("AAPL"); ok {
		t.Error("AAPL channel should be torn down once its last subscriber moved away")
	}
	if subs := r.SubscribersOf("TSLA"); len(subs) != 2 {
		t.Errorf("Expected 2 TSLA subscribers, got %v", subs)
	}
}

func TestRegistry_Unsubscribe_NotSubscribed(t *testing.T) {
	r, _ := setup()
	r.Subscribe("c1", "AAPL")

	r.Unsubscribe("ghost")
	r.Unsubscribe("ghost")

	if subs := r.SubscribersOf("AAPL"); len(subs) != 1 || subs[0] != "c1" {
		t.Errorf("Unsubscribing an unknown handle must not affect others, got %v", subs)
	}
}

func TestRegistry_Unsubscribe_TearsDownChannel(t *testing.T) {
	r, mgr := setup()
	r.Subscribe("c1", "AAPL")

	r.Unsubscribe("c1")

	if _, ok := r.SymbolOf("c1"); ok {
		t.Error("c1 should have no symbol after unsubscribe")
	}
	if mgr.ActiveChannels() != 0 {
		t.Errorf("Expected channel teardown, got %d channels", mgr.ActiveChannels())
	}
	if r.Handles() != 1 {
		t.Errorf("Unsubscribe should keep the handle registered, got %d", r.Handles())
	}
}

func TestRegistry_Disconnect(t *testing.T) {
	r, mgr := setup()
	sink := r.Sink("c1")
	r.Subscribe("c1", "AAPL")

	r.Disconnect("c1")
	r.Disconnect("c1")

	if r.Handles() != 0 {
		t.Errorf("Expected no handles, got %d", r.Handles())
	}
	if mgr.ActiveChannels() != 0 {
		t.Errorf("Expected no channels, got %d", mgr.ActiveChannels())
	}
	if _, ok := <-sink.C(); ok {
		t.Error("Disconnect should close the handle's sink")
	}
}

func TestRegistry_Sink_Stable(t *testing.T) {
	r, _ := setup()
	if r.Sink("c1") != r.Sink("c1") {
		t.Error("A handle should keep the same sink")
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r, mgr := setup()
	symbols := []string{"AAPL", "TSLA", "GOOG"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := fmt.Sprintf("c%d", i)
			for j := 0; j < 50; j++ {
				r.Subscribe(handle, symbols[(i+j)%len(symbols)])
				if j%7 == 0 {
					r.Unsubscribe(handle)
				}
			}
			r.Unsubscribe(handle)
		}(i)
	}
	wg.Wait()

	if mgr.ActiveChannels() != 0 {
		t.Errorf("All channels should be torn down after everyone left, got %d", mgr.ActiveChannels())
	}
	for _, sym := range symbols {
		if subs := r.SubscribersOf(sym); len(subs) != 0 {
			t.Errorf("%s still has subscribers %v", sym, subs)
		}
	}
}
