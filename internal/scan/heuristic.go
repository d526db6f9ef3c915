package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/studyshare/notegate/internal/model"
)

// heuristicChunk is how much of the file the pattern scan reads.
const heuristicChunk = 1 << 20 // 1 MiB

// indicatorPatterns are matched case-insensitively against the leading chunk
// of the file (the chunk is lowercased first, so patterns are lowercase).
// The first entry is the EICAR test string, the industry-standard probe for
// verifying that scanning is wired up at all.
var indicatorPatterns = [][]byte{
	[]byte(`x5o!p%@ap[4\pzx54(p^)7cc)7}$eicar-standard-antivirus-test-file!$h+h*`),
	// VBA/Office macro auto-run entry points.
	[]byte("autoopen"),
	[]byte("auto_open"),
	[]byte("autoexec"),
	[]byte("workbook_open"),
	[]byte("document_open"),
	// Shell and eval invocation patterns seen in macro droppers.
	[]byte("wscript.shell"),
	[]byte("createobject(\"shell"),
	[]byte("cmd.exe /c"),
	[]byte("powershell -enc"),
	[]byte("eval(base64_decode"),
}

// heuristicScanner is the weakest backend: a fixed-list substring match over
// the head of the file. It exists so that a host with no ClamAV install at
// all still rejects the obvious cases, and its results are labeled so the
// reduced confidence is visible in logs and note rows.
type heuristicScanner struct{}

func (h *heuristicScanner) Name() model.ScanBackend {
	return model.BackendHeuristic
}

// Probe always succeeds: the heuristic needs nothing from the host.
func (h *heuristicScanner) Probe(ctx context.Context) bool {
	return true
}

func (h *heuristicScanner) Scan(ctx context.Context, path string) (model.ScanResult, error) {
	chunk, err := readHead(path, heuristicChunk)
	if err != nil {
		// Even the heuristic could not look at the file. Report unavailable
		// rather than failing: policy upstream decides whether that blocks.
		return model.ScanResult{
			Backend: model.BackendUnavailable,
			Message: fmt.Sprintf("heuristic read failed: %v", err),
		}, nil
	}
	lowered := bytes.ToLower(chunk)
	for _, pattern := range indicatorPatterns {
		if bytes.Contains(lowered, pattern) {
			return model.ScanResult{
				Infected: true,
				Backend:  model.BackendHeuristic,
				Message:  fmt.Sprintf("heuristic indicator match: %s", pattern),
			}, nil
		}
	}
	return model.ScanResult{
		Backend: model.BackendHeuristic,
		Message: "no indicators found (heuristic only, no scanner engine installed)",
	}, nil
}

func readHead(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, err
	}
	return data, nil
}
