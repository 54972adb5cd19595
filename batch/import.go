package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/packet-tracer-i18n/tskit/tsfile"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// RecordError reports one malformed or unusable result record. It is
// recovered locally: the record is skipped and counted, never fatal on
// its own.
type RecordError struct {
	// Line is the 1-based JSONL line number.
	Line int
	// CustomID is the record identifier, when one could be read.
	CustomID string
	// Reason describes what was wrong.
	Reason string
}

func (e *RecordError) Error() string {
	if e.CustomID != "" {
		return fmt.Sprintf("result line %d (%s): %s", e.Line, e.CustomID, e.Reason)
	}
	return fmt.Sprintf("result line %d: %s", e.Line, e.Reason)
}

// IdentityMismatchError reports a strict-mode custom_id set mismatch
// between the recomputed export selection and the result file. The
// import is rejected wholesale before any mutation.
type IdentityMismatchError struct {
	// Missing are expected ids absent from the result file.
	Missing []string
	// Extra are result ids that were never exported.
	Extra []string
}

func (e *IdentityMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("%d missing (%s)", len(e.Missing), previewIDs(e.Missing)))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("%d unexpected (%s)", len(e.Extra), previewIDs(e.Extra)))
	}
	return "custom_id set mismatch: " + strings.Join(parts, ", ")
}

func previewIDs(ids []string) string {
	const max = 5
	if len(ids) <= max {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:max], ", ") + ", …"
}

// ---------------------------------------------------------------------------
// Result records
// ---------------------------------------------------------------------------

// StatusOK marks a successful result record.
const StatusOK = "ok"

// ResultRecord is one parsed line of the results JSONL file.
type ResultRecord struct {
	CustomID       string
	TranslatedText string
	// Status is the provider's success/failure indicator, normalized so
	// that Succeeded() can be used without knowing provider vocabulary.
	Status string
}

// Succeeded reports whether the record carries a usable translation.
func (r *ResultRecord) Succeeded() bool {
	switch strings.ToLower(r.Status) {
	case StatusOK, "success", "succeeded", "completed", "":
		return true
	}
	return false
}

// resultLine is the wire shape of one result record. The simple fields
// (translated_text, status) are the native format; the response/error
// pair is the raw bulk-API batch output shape, accepted as a fallback.
type resultLine struct {
	CustomID       string          `json:"custom_id"`
	TranslatedText *string         `json:"translated_text"`
	Status         string          `json:"status"`
	Error          json.RawMessage `json:"error"`
	Response       *struct {
		Body struct {
			Choices []struct {
				Message struct {
					Content *string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

// ExtractTranslatedText strips the prompt echo some models produce:
// everything up to and including a "Text:" marker line is discarded.
func ExtractTranslatedText(content string) string {
	for _, marker := range []string{"Text:\r\n", "Text:\n"} {
		if idx := strings.Index(content, marker); idx >= 0 {
			return content[idx+len(marker):]
		}
	}
	return content
}

// ReadResults parses a results JSONL stream. Malformed lines and
// duplicate ids become RecordErrors; parsing always continues to the
// end of the stream. Only a read failure is fatal.
func ReadResults(r io.Reader) ([]ResultRecord, []*RecordError, error) {
	var records []ResultRecord
	var recErrs []*RecordError
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw resultLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			recErrs = append(recErrs, &RecordError{Line: lineNum, Reason: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if raw.CustomID == "" {
			recErrs = append(recErrs, &RecordError{Line: lineNum, Reason: "missing custom_id"})
			continue
		}
		if seen[raw.CustomID] {
			recErrs = append(recErrs, &RecordError{Line: lineNum, CustomID: raw.CustomID, Reason: "duplicate custom_id"})
			continue
		}
		seen[raw.CustomID] = true

		rec := ResultRecord{CustomID: raw.CustomID, Status: raw.Status}

		switch {
		case raw.TranslatedText != nil:
			rec.TranslatedText = ExtractTranslatedText(*raw.TranslatedText)
		case raw.Response != nil:
			if len(raw.Error) > 0 && string(raw.Error) != "null" {
				rec.Status = "error"
			} else if len(raw.Response.Body.Choices) == 0 || raw.Response.Body.Choices[0].Message.Content == nil {
				recErrs = append(recErrs, &RecordError{Line: lineNum, CustomID: raw.CustomID, Reason: "no translation content in response"})
				continue
			} else {
				rec.TranslatedText = ExtractTranslatedText(*raw.Response.Body.Choices[0].Message.Content)
				if rec.Status == "" {
					rec.Status = StatusOK
				}
			}
		case len(raw.Error) > 0 && string(raw.Error) != "null":
			rec.Status = "error"
		default:
			recErrs = append(recErrs, &RecordError{Line: lineNum, CustomID: raw.CustomID, Reason: "missing translated_text"})
			continue
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading results: %w", err)
	}
	return records, recErrs, nil
}

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

// Summary reports what an apply run did. Every skipped record is
// counted somewhere; nothing is dropped silently.
type Summary struct {
	// Updated is the number of units whose translation was set.
	Updated int
	// SkippedFinished counts units left untouched because they were
	// already finished and IncludeFinished was off.
	SkippedFinished int
	// Failed counts result records whose status indicated failure.
	Failed int
	// Unmatched counts result records with no corresponding request.
	Unmatched int
	// Malformed counts unusable result lines.
	Malformed int
	// FailedIDs lists the custom_ids of failed records for the report.
	FailedIDs []string
}

// Apply recomputes the export selection over units with the same
// options used at export time, then maps each successful result back
// onto every unit the matching selection represents. In strict mode the
// result id set must equal the exported id set exactly, and no
// malformed records are tolerated; the check runs before any mutation.
func Apply(units []*tsfile.Unit, results []ResultRecord, recErrs []*RecordError, opts Options, strict bool) (*Summary, error) {
	return ApplyPlan(units, Plan(units, opts), results, recErrs, opts.IncludeFinished, strict)
}

// ApplyPlan is Apply with an externally supplied selection plan, used
// when the export manifest is available instead of recomputation.
func ApplyPlan(units []*tsfile.Unit, plan []*Selection, results []ResultRecord, recErrs []*RecordError, includeFinished, strict bool) (*Summary, error) {
	byID := make(map[string]*Selection, len(plan))
	for _, sel := range plan {
		byID[sel.CustomID] = sel
	}

	if strict {
		if len(recErrs) > 0 {
			return nil, fmt.Errorf("%d malformed result records (first: %v)", len(recErrs), recErrs[0])
		}
		if err := checkIdentity(byID, results); err != nil {
			return nil, err
		}
	}

	sum := &Summary{Malformed: len(recErrs)}

	for _, rec := range results {
		sel, ok := byID[rec.CustomID]
		if !ok {
			sum.Unmatched++
			continue
		}
		if !rec.Succeeded() {
			sum.Failed++
			sum.FailedIDs = append(sum.FailedIDs, rec.CustomID)
			continue
		}
		for _, idx := range sel.Indices {
			if idx < 0 || idx >= len(units) {
				sum.Unmatched++
				continue
			}
			unit := units[idx]
			if !includeFinished && unit.Message.Finished() {
				sum.SkippedFinished++
				continue
			}
			unit.Message.SetTranslation(rec.TranslatedText)
			sum.Updated++
		}
	}

	return sum, nil
}

// checkIdentity compares the expected and received custom_id sets.
func checkIdentity(expected map[string]*Selection, results []ResultRecord) error {
	got := make(map[string]bool, len(results))
	for _, rec := range results {
		got[rec.CustomID] = true
	}

	var mismatch IdentityMismatchError
	for id := range expected {
		if !got[id] {
			mismatch.Missing = append(mismatch.Missing, id)
		}
	}
	for id := range got {
		if _, ok := expected[id]; !ok {
			mismatch.Extra = append(mismatch.Extra, id)
		}
	}

	if len(mismatch.Missing) == 0 && len(mismatch.Extra) == 0 {
		return nil
	}
	sort.Strings(mismatch.Missing)
	sort.Strings(mismatch.Extra)
	return &mismatch
}
