package scan

import (
	"context"
	"fmt"

	clamd "github.com/dutchcoders/go-clamd"

	"github.com/studyshare/notegate/internal/model"
)

// daemonSocket talks to a running clamd over its unix or tcp socket. This is
// the preferred backend: the daemon keeps signatures hot in memory so scans
// are fast enough for the request path.
type daemonSocket struct {
	address string
}

func (d *daemonSocket) Name() model.ScanBackend {
	return model.BackendDaemonSocket
}

// Probe pings the daemon. The client library has no deadline support, so the
// ping runs in a goroutine and a hung socket counts as unavailable once the
// context expires.
func (d *daemonSocket) Probe(ctx context.Context) bool {
	done := make(chan error, 1)
	go func() {
		done <- clamd.NewClamd(d.address).Ping()
	}()
	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

// Scan submits the file and waits for the verdict, but never longer than the
// context allows. A wedged daemon surfaces as an error, which the
// orchestrator treats like an unreachable backend.
func (d *daemonSocket) Scan(ctx context.Context, path string) (model.ScanResult, error) {
	type outcome struct {
		res model.ScanResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := d.scanFile(path)
		done <- outcome{res: res, err: err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return model.ScanResult{}, fmt.Errorf("clamd scan of %s: %w", path, ctx.Err())
	}
}

func (d *daemonSocket) scanFile(path string) (model.ScanResult, error) {
	c := clamd.NewClamd(d.address)
	results, err := c.ScanFile(path)
	if err != nil {
		return model.ScanResult{}, fmt.Errorf("clamd scan: %w", err)
	}
	for r := range results {
		switch r.Status {
		case clamd.RES_OK:
			return model.ScanResult{
				Backend: model.BackendDaemonSocket,
				Message: "clean",
			}, nil
		case clamd.RES_FOUND:
			return model.ScanResult{
				Infected: true,
				Backend:  model.BackendDaemonSocket,
				Message:  r.Description,
			}, nil
		}
	}
	return model.ScanResult{}, fmt.Errorf("clamd returned no recognizable result for %s", path)
}
