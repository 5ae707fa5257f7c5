package importer

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	// ErrMalformedDocument means the upload is not parseable JSON
	ErrMalformedDocument = errors.New("file is not valid JSON")
	// ErrInvalidDocument means the batch envelope does not match the expected shape
	ErrInvalidDocument = errors.New("file does not match the property import format")
)

var quotedName = regexp.MustCompile(`'([^']+)'`)

// Issue is a single schema violation. EntryIndex is BatchLevel for envelope problems.
type Issue struct {
	EntryIndex int
	EntryTitle string
	Field      string
	Message    string
}

// String renders the issue the way the validate endpoint reports it
func (i Issue) String() string {
	var b strings.Builder
	if i.EntryIndex >= 0 {
		b.WriteString(fmt.Sprintf("properties[%d]", i.EntryIndex))
		if i.Field != "" {
			b.WriteString(".")
		}
	}
	b.WriteString(i.Field)
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// ValidationResult is the response of a dry-run validation
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validator checks batch documents against the embedded schemas
type Validator struct {
	batch *jsonschema.Schema
	entry *jsonschema.Schema
}

// NewValidator compiles the embedded schemas
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	for _, name := range []string{"batch.json", "entry.json"} {
		file, err := schemaFS.Open("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to open schema %s: %w", name, err)
		}
		err = compiler.AddResource(name, file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
	}

	batch, err := compiler.Compile("batch.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile batch schema: %w", err)
	}
	entry, err := compiler.Compile("entry.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile entry schema: %w", err)
	}

	return &Validator{batch: batch, entry: entry}, nil
}

// MustValidator is NewValidator for package-level wiring; the schemas are compiled into the binary
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate performs a dry run. Nothing is persisted and repeated calls give identical results.
func (v *Validator) Validate(raw []byte) ValidationResult {
	_, issues, err := v.Parse(raw)
	if errors.Is(err, ErrMalformedDocument) {
		return ValidationResult{Valid: false, Errors: []string{ErrMalformedDocument.Error()}}
	}

	result := ValidationResult{Valid: true, Errors: []string{}}
	for _, issue := range issues {
		result.Valid = false
		result.Errors = append(result.Errors, issue.String())
	}
	return result
}

// Parse validates the envelope and every entry, then decodes the batch.
// A non-nil error means the document as a whole is unusable; in that case the
// returned issues describe the envelope problems. Otherwise issues hold the
// entry-level problems, sorted by entry index and field.
func (v *Validator) Parse(raw []byte) (*ImportBatch, []Issue, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	if err := v.batch.Validate(doc); err != nil {
		issues := collectIssues(err, BatchLevel, "")
		sortIssues(issues)
		return nil, issues, fmt.Errorf("%w: %s", ErrInvalidDocument, joinIssues(issues))
	}

	var envelope struct {
		Source     string            `json:"source"`
		ImportedAt json.RawMessage   `json:"importedAt"`
		Settings   Settings          `json:"settings"`
		Properties []json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	batch := &ImportBatch{
		Source:   strings.TrimSpace(envelope.Source),
		Settings: envelope.Settings,
		Entries:  make([]PropertyEntry, len(envelope.Properties)),
	}
	if len(envelope.ImportedAt) > 0 && string(envelope.ImportedAt) != "null" {
		// format was asserted by the schema
		_ = json.Unmarshal(envelope.ImportedAt, &batch.ImportedAt)
	}

	items, _ := doc.(map[string]interface{})["properties"].([]interface{})

	var issues []Issue
	for i, item := range items {
		title := titleOf(item)
		if err := v.entry.Validate(item); err != nil {
			issues = append(issues, collectIssues(err, i, title)...)
			continue
		}
		if err := json.Unmarshal(envelope.Properties[i], &batch.Entries[i]); err != nil {
			issues = append(issues, decodeIssue(err, i, title))
		}
	}

	sortIssues(issues)
	return batch, issues, nil
}

// decodeIssue attributes a decode failure to its field. The schema treats 2.0
// as an integer but the decoder does not.
func decodeIssue(err error, index int, title string) Issue {
	issue := Issue{EntryIndex: index, EntryTitle: title, Message: err.Error()}
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return issue
	}
	issue.Field = typeErr.Field
	switch typeErr.Type.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		issue.Message = "must be a whole number without a decimal point"
	default:
		issue.Message = fmt.Sprintf("cannot hold a %s value", typeErr.Value)
	}
	return issue
}

// collectIssues flattens a schema error tree into its leaf violations
func collectIssues(err error, index int, title string) []Issue {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Issue{{EntryIndex: index, EntryTitle: title, Message: err.Error()}}
	}

	var issues []Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}

		field := fieldPath(e.InstanceLocation)
		if strings.HasSuffix(e.KeywordLocation, "/required") {
			names := quotedName.FindAllStringSubmatch(e.Message, -1)
			for _, m := range names {
				issues = append(issues, Issue{
					EntryIndex: index,
					EntryTitle: title,
					Field:      joinField(field, m[1]),
					Message:    "is required",
				})
			}
			if len(names) > 0 {
				return
			}
		}

		issues = append(issues, Issue{
			EntryIndex: index,
			EntryTitle: title,
			Field:      field,
			Message:    e.Message,
		})
	}
	walk(verr)

	return issues
}

// fieldPath turns a JSON pointer like /photos/2 into photos[2]
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}

	var b strings.Builder
	for i, part := range strings.Split(pointer, "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(part); err == nil && i > 0 {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteString(".")
		}
		b.WriteString(part)
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		if issues[a].EntryIndex != issues[b].EntryIndex {
			return issues[a].EntryIndex < issues[b].EntryIndex
		}
		if issues[a].Field != issues[b].Field {
			return issues[a].Field < issues[b].Field
		}
		return issues[a].Message < issues[b].Message
	})
}

func joinIssues(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.String())
	}
	return strings.Join(parts, "; ")
}

func titleOf(item interface{}) string {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return ""
	}
	title, _ := obj["title"].(string)
	return strings.TrimSpace(title)
}
