package inventory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestStaticProviderListAndRemove(t *testing.T) {
	provider := NewStaticProvider([]string{"10.0.0.1:5555", "http://10.0.0.2:5555", " ", "10.0.0.1:5555"})
	ctx := context.Background()

	addresses, err := provider.ListLiveAddresses(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"http://10.0.0.1:5555", "http://10.0.0.2:5555"}
	if !reflect.DeepEqual(addresses, want) {
		t.Fatalf("expected %v, got %v", want, addresses)
	}

	if err := provider.Remove(ctx, "10.0.0.1:5555"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	addresses, _ = provider.ListLiveAddresses(ctx)
	if !reflect.DeepEqual(addresses, []string{"http://10.0.0.2:5555"}) {
		t.Fatalf("expected removal to shrink the list, got %v", addresses)
	}
}

func TestCloudProviderFiltersRunningPoolMembers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/instances" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"instances": [
			{"id": "i-1", "state": "running", "tags": ["gridpool"], "private_dns": "ip-10-0-0-1.internal", "public_dns": "ec2-1.example.com"},
			{"id": "i-2", "state": "stopped", "tags": ["gridpool"], "private_dns": "ip-10-0-0-2.internal"},
			{"id": "i-3", "state": "running", "tags": ["other"], "private_dns": "ip-10-0-0-3.internal"},
			{"id": "i-4", "state": "running", "tags": ["gridpool"], "private_dns": "ip-10-0-0-4.internal"}
		]}`))
	}))
	defer srv.Close()

	provider := NewCloudProvider(srv.URL, CloudConfig{PoolTag: "gridpool", NodePort: 5555})
	addresses, err := provider.ListLiveAddresses(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"http://ip-10-0-0-1.internal:5555", "http://ip-10-0-0-4.internal:5555"}
	if !reflect.DeepEqual(addresses, want) {
		t.Fatalf("expected %v, got %v", want, addresses)
	}
}

func TestCloudProviderPublicDNS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"instances": [
			{"id": "i-1", "state": "running", "tags": ["gridpool"], "private_dns": "ip-10-0-0-1.internal", "public_dns": "ec2-1.example.com"},
			{"id": "i-2", "state": "running", "tags": ["gridpool"], "private_dns": "ip-10-0-0-2.internal"}
		]}`))
	}))
	defer srv.Close()

	provider := NewCloudProvider(srv.URL, CloudConfig{PoolTag: "gridpool", NodePort: 4444, UsePublicDNS: true})
	addresses, err := provider.ListLiveAddresses(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// the instance with no public name is skipped
	want := []string{"http://ec2-1.example.com:4444"}
	if !reflect.DeepEqual(addresses, want) {
		t.Fatalf("expected %v, got %v", want, addresses)
	}
}

func TestCloudProviderCannotMutate(t *testing.T) {
	provider := NewCloudProvider("http://inventory.internal", CloudConfig{})
	if provider.CanAdd() || provider.CanRemove() {
		t.Fatalf("cloud provider must be discovery-only")
	}
	if err := provider.Add(context.Background(), "http://x:5555"); err == nil {
		t.Fatalf("expected unsupported error")
	}
}
