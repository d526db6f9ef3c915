package scan

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/studyshare/notegate/internal/model"
)

// cliScanner shells out to one of the ClamAV command-line frontends.
// clamdscan hands the file to a running daemon; clamscan loads the signature
// database itself and works with no daemon at all.
type cliScanner struct {
	name   model.ScanBackend
	binary string
	args   []string
}

func newDaemonCLI() *cliScanner {
	return &cliScanner{
		name:   model.BackendDaemonCLI,
		binary: "clamdscan",
		args:   []string{"--no-summary", "--fdpass"},
	}
}

func newStandaloneCLI() *cliScanner {
	return &cliScanner{
		name:   model.BackendStandaloneCLI,
		binary: "clamscan",
		args:   []string{"--no-summary"},
	}
}

func (s *cliScanner) Name() model.ScanBackend {
	return s.name
}

func (s *cliScanner) Probe(ctx context.Context) bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

func (s *cliScanner) Scan(ctx context.Context, path string) (model.ScanResult, error) {
	args := append(append([]string{}, s.args...), path)
	out, err := exec.CommandContext(ctx, s.binary, args...).CombinedOutput()
	if ctx.Err() != nil {
		return model.ScanResult{}, fmt.Errorf("%s timed out: %w", s.binary, ctx.Err())
	}
	if err != nil {
		// ClamAV frontends exit 1 when a virus was found, 2 on errors.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return model.ScanResult{
				Infected: true,
				Backend:  s.name,
				Message:  parseSignature(out),
			}, nil
		}
		return model.ScanResult{}, fmt.Errorf("%s: %w", s.binary, err)
	}
	return model.ScanResult{
		Backend: s.name,
		Message: "clean",
	}, nil
}

// parseSignature pulls the signature name out of clamscan output, which
// reports infections as "<path>: <signature> FOUND".
func parseSignature(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if i := strings.LastIndex(line, ": "); i >= 0 {
			return line[i+2:]
		}
		return line
	}
	return "unknown signature"
}
