package destination

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sp00nznet/pontoond/internal/connection"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/stream"
	"github.com/sp00nznet/pontoond/internal/types"
)

func init() {
	Register(connection.VendorConsole, newConsoleDestination)
}

// consoleDestination logs the first `limit` records (default 10) through
// the standard logrus logger, whose output is stderr unless reconfigured,
// rather than landing them anywhere durable; every record is counted.
// Used for local development and the §8 seed test scenarios.
type consoleDestination struct {
	limit int
	log   *logrus.Logger
}

func newConsoleDestination(info connection.Info) (Destination, error) {
	limit := info.Limit
	if limit <= 0 {
		limit = 10
	}
	return &consoleDestination{limit: limit, log: logrus.StandardLogger()}, nil
}

func (c *consoleDestination) TestConnect(ctx context.Context) error { return nil }
func (c *consoleDestination) Close() error                         { return nil }

func (c *consoleDestination) Write(ctx context.Context, cfg WriteConfig, schemaName, tableName string,
	schema types.Schema, cur stream.Cursor, tracker *progress.Tracker) (int64, error) {

	var n int64
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
		if n <= int64(c.limit) {
			fields := logrus.Fields{"schema": schemaName, "table": tableName, "row": n}
			for i, f := range schema {
				fields[f.Name] = rec[i].V
			}
			c.log.WithFields(fields).Info("console destination record")
		}
		if tracker != nil {
			tracker.Add(1, "")
		}
	}
	return n, nil
}
