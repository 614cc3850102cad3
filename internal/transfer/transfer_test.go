package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/controlplane"

	_ "github.com/sp00nznet/pontoond/internal/destination" // registers console
	_ "github.com/sp00nznet/pontoond/internal/source"       // registers memory
)

// fakeControlPlane serves the minimal §6.2 surface needed to run one
// transfer end to end against the in-memory source and console
// destination, mirroring the teacher's own hand-rolled HTTP handlers.
func fakeControlPlane(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/internal/recipients/org1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.Recipient{ID: "org1", TenantID: "Customer1", Name: "Acme"})
	})
	mux.HandleFunc("/internal/sources/src1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.Source{
			ID: "src1", VendorType: connection.VendorMemory,
			ConnectionInfo: connection.Info{VendorType: connection.VendorMemory, Namespace: "org1"},
		})
	})
	mux.HandleFunc("/internal/models/model1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.Model{
			ID: "model1", SourceID: "src1", SchemaName: "public", TableName: "customers",
			PrimaryKeyColumn: "id", LastModifiedAtColumn: "updated_at", TenantIDColumn: "customer_id",
		})
	})
	mux.HandleFunc("/internal/destinations/dst1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.Destination{
			ID: "dst1", VendorType: connection.VendorConsole,
			ConnectionInfo: connection.Info{VendorType: connection.VendorConsole, Limit: 5},
		})
	})
	mux.HandleFunc("/internal/runs/transfer1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/internal/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(controlplane.TransferRun{ID: "run1", TransferID: "transfer1", Status: controlplane.RunRunning})
	})
	mux.HandleFunc("/internal/runs/run1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func TestTransferFullRefreshMemoryToConsole(t *testing.T) {
	srv := fakeControlPlane(t)
	defer srv.Close()

	cp := controlplane.New(srv.URL, 1)
	cmd := New(cp, logrus.NewEntry(logrus.StandardLogger()))

	result, err := cmd.Run(context.Background(), Request{
		TransferID:     "transfer1",
		OrganizationID: "org1",
		DestinationID:  "dst1",
		ModelIDs:       []string{"model1"},
		CacheDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != controlplane.RunSuccess {
		t.Fatalf("expected SUCCESS, got %s (err=%v)", result.Status, err)
	}
	if result.RowsWritten != 29 {
		t.Fatalf("expected 29 rows written (Customer1's full_refresh rows), got %d", result.RowsWritten)
	}
}
