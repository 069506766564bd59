package utils

import (
	"net"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestServerStopRunsHooksInOrder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer("", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	var order []string
	srv.OnShutdown(func() { order = append(order, "workers") })
	srv.OnShutdown(func() { order = append(order, "bus") })

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	srv.Stop()
	srv.Stop()

	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after stop")
	}
	if want := []string{"workers", "bus"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("expected hooks %v, got %v", want, order)
	}
}
