package source

import (
	"context"
	"fmt"
	"time"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

func init() {
	Register(connection.VendorMemory, newMemorySource)
}

// memoryRow is one row of the fixed, deterministic 100-row fixture used
// by the §8 seed test scenarios and local development, grounded on
// source/memory_source.py.
type memoryRow struct {
	id         int64
	customerID string
	name       string
	amount     float64
	active     bool
	updatedAt  time.Time
}

// memoryFixture builds the fixed 100-row dataset. Exactly 29 rows carry
// customer_id="Customer1" (§8 scenario 1), and of those, exactly 7 carry
// updated_at within [2025-01-01T00:00Z, 2025-01-02T00:00Z) (§8 scenario
// 2). The remaining 71 rows are spread evenly across four other
// customers with updated_at values well outside that window.
func memoryFixture() []memoryRow {
	rows := make([]memoryRow, 0, 100)
	otherCustomers := []string{"Customer2", "Customer3", "Customer4", "Customer5"}

	for i := 0; i < 100; i++ {
		var customerID string
		var updatedAt time.Time

		if i < 29 {
			customerID = "Customer1"
			if i < 7 {
				updatedAt = time.Date(2025, 1, 1, i, 0, 0, 0, time.UTC)
			} else {
				updatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
			}
		} else {
			customerID = otherCustomers[(i-29)%len(otherCustomers)]
			updatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		}

		rows = append(rows, memoryRow{
			id:         int64(i + 1),
			customerID: customerID,
			name:       fmt.Sprintf("Record-%03d", i+1),
			amount:     float64(i) * 1.5,
			active:     i%2 == 0,
			updatedAt:  updatedAt,
		})
	}
	return rows
}

var memorySchema = types.Schema{
	{Name: "id", Kind: types.Int64},
	{Name: "customer_id", Kind: types.String},
	{Name: "name", Kind: types.String},
	{Name: "amount", Kind: types.Float64},
	{Name: "active", Kind: types.Bool},
	{Name: "updated_at", Kind: types.TimestampUTC},
}

type memorySource struct {
	namespace string
}

func newMemorySource(info connection.Info) (Source, error) {
	ns := info.Namespace
	if ns == "" {
		ns = "memory"
	}
	return &memorySource{namespace: ns}, nil
}

func (m *memorySource) TestConnect(ctx context.Context) error { return nil }

func (m *memorySource) InspectStreams(ctx context.Context) ([]InspectedStream, error) {
	fields := make([]InspectedField, len(memorySchema))
	for i, f := range memorySchema {
		fields[i] = InspectedField{Name: f.Name, Kind: f.Kind}
	}
	return []InspectedStream{{SchemaName: "public", StreamName: "customers", Fields: fields}}, nil
}

func (m *memorySource) Close() error { return nil }

func (m *memorySource) Read(ctx context.Context, cfg ReadConfig, agg *progress.Aggregator) (*stream.Dataset, error) {
	ds := stream.NewDataset(m.namespace, cfg.BatchID, "", cfg.Cache)

	for _, spec := range cfg.Streams {
		if spec.TableName != "customers" {
			return nil, xerrors.New(xerrors.SourceStreamDoesNotExist,
				fmt.Sprintf("memory source has no table %q", spec.TableName))
		}

		s := stream.New(spec.TableName, spec.SchemaName, memorySchema)
		s.PrimaryField = spec.PrimaryField
		s.CursorField = spec.CursorField
		s.Filters = spec.Filters
		for _, d := range spec.DropFields {
			s.DropField(d)
		}
		if cfg.BatchID != "" {
			s.WithBatchID(cfg.BatchID)
		}
		if cfg.LastSyncedAt != nil {
			s.WithLastSyncedAt(*cfg.LastSyncedAt)
		}
		if err := s.Validate(); err != nil {
			return nil, xerrors.Wrap(xerrors.SourceStreamInvalidSchema, "memory source stream validation", err)
		}
		ds.AddStream(s)

		matched := m.filter(spec, cfg.Mode)

		uri := entityURI(connection.VendorMemory, m.namespace, spec.SchemaName, spec.TableName)
		tracker := progress.New(uri, int64(len(matched)))
		if agg != nil {
			tracker.Subscribe(agg.Observe)
		}

		if len(matched) == 0 {
			tracker.Message("no matching rows")
			continue
		}

		records := make([]stream.Record, 0, len(matched))
		for _, row := range matched {
			records = append(records, s.Materialize(rowToRecord(spec, row)))
		}
		if _, err := ds.Write(ctx, s, records); err != nil {
			return nil, xerrors.Wrap(xerrors.SourceConnectionFailed, "writing memory rows to cache", err)
		}
		tracker.Add(int64(len(records)), "")
	}

	return ds, nil
}

func (m *memorySource) filter(spec StreamSpec, mode schedule.Mode) []memoryRow {
	var out []memoryRow
	for _, row := range memoryFixture() {
		if v, ok := spec.Filters["customer_id"]; ok {
			if s, ok := v.(string); !ok || s != row.customerID {
				continue
			}
		}
		if mode.Type == schedule.Incremental && spec.CursorField == "updated_at" {
			if mode.Start != nil && row.updatedAt.Before(*mode.Start) {
				continue
			}
			if mode.End != nil && !row.updatedAt.Before(*mode.End) {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

func rowToRecord(spec StreamSpec, row memoryRow) stream.Record {
	full := map[string]stream.Value{
		"id":          {Kind: types.Int64, V: row.id},
		"customer_id": {Kind: types.String, V: row.customerID},
		"name":        {Kind: types.String, V: row.name},
		"amount":      {Kind: types.Float64, V: row.amount},
		"active":      {Kind: types.Bool, V: row.active},
		"updated_at":  {Kind: types.TimestampUTC, V: row.updatedAt},
	}
	rec := make(stream.Record, 0, len(memorySchema))
	for _, f := range memorySchema {
		if contains(spec.DropFields, f.Name) {
			continue
		}
		rec = append(rec, full[f.Name])
	}
	return rec
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
