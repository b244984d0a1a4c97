package extractpool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"chipscore/internal/analysis"
	"chipscore/internal/wavio"
)

// Serve runs the worker side of the extraction protocol: one JSON request
// per stdin line, one JSON response per stdout line. It returns when stdin
// closes, which is how the pool retires a worker gracefully.
func Serve(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)
	extractors := make(map[int]*Extractor)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req workerRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(workerResponse{Error: "malformed request: " + err.Error()}); encErr != nil {
				return encErr
			}
			continue
		}
		// The analysis rate is fixed per deployment, so in practice this
		// builds one extractor and reuses it for every request.
		ext := extractors[req.AnalysisRate]
		if ext == nil {
			ext = NewExtractor(req.AnalysisRate)
			extractors[req.AnalysisRate] = ext
		}
		if err := enc.Encode(handleRequest(ext, req)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func handleRequest(ext *Extractor, req workerRequest) workerResponse {
	samples, rate, err := wavio.ReadFile(req.WavPath)
	if err != nil {
		return workerResponse{ID: req.ID, Error: "read job audio: " + err.Error()}
	}
	fv, err := ext.Extract(samples, rate, analysis.SourceMeta{Key: req.Key, Engine: req.Engine})
	if err != nil {
		return workerResponse{ID: req.ID, Error: err.Error()}
	}
	return workerResponse{ID: req.ID, Features: &fv}
}
