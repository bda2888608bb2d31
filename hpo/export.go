package hpo

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// exportRecord mirrors TrialRecord for JSON. Failed trials hold an infinite
// objective, which encoding/json rejects, so the exported objective is a
// pointer left nil when the value is not finite.
type exportRecord struct {
	Index     int        `json:"index"`
	Params    Assignment `json:"params"`
	Objective *float64   `json:"objective"`
	Failed    bool       `json:"failed,omitempty"`
	Err       string     `json:"error,omitempty"`
	ElapsedMS float64    `json:"elapsed_ms"`
}

type exportFile struct {
	RunID     string         `json:"run_id"`
	Sampler   string         `json:"sampler"`
	CreatedAt string         `json:"created_at"`
	Best      *exportRecord  `json:"best,omitempty"`
	Records   []exportRecord `json:"records"`
}

func toExportRecord(rec *TrialRecord) exportRecord {
	out := exportRecord{
		Index:     rec.Index,
		Params:    rec.Params,
		Failed:    rec.Failed,
		Err:       rec.Err,
		ElapsedMS: float64(rec.Elapsed) / float64(time.Millisecond),
	}
	if !math.IsInf(rec.Objective, 0) && !math.IsNaN(rec.Objective) {
		v := rec.Objective
		out.Objective = &v
	}
	return out
}

// WriteResults dumps the full result as indented JSON. The best block is
// omitted when no trial succeeded.
func WriteResults(path string, res *Result) error {
	file := exportFile{
		RunID:     res.RunID,
		Sampler:   res.Sampler,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Records:   make([]exportRecord, 0, len(res.Records)),
	}
	for i := range res.Records {
		file.Records = append(file.Records, toExportRecord(&res.Records[i]))
	}
	if best, err := res.Best(); err == nil {
		rec := toExportRecord(best)
		file.Best = &rec
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}
