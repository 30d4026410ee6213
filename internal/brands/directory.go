// Package brands holds the in-memory brand directory loaded from the ClickUp brand list
package brands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/clickup"
	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// Record is one brand task as loaded from the directory
type Record struct {
	Name              string `json:"name"`
	TaskID            string `json:"task_id"`
	MemberFolderRef   string `json:"member_folder_ref"`
	InternalFolderRef string `json:"internal_folder_ref"`
}

// Destination is a resolved brand with bare storage folder ids
type Destination struct {
	TaskID           string
	BrandName        string
	MemberFolderID   string
	InternalFolderID string
}

// FieldIDs names the custom fields that carry the folder references
type FieldIDs struct {
	Internal string
	Member   string
}

// FieldNames are the human-readable field names used when ids are not configured
type FieldNames struct {
	Internal string
	Member   string
}

// Directory is an immutable snapshot of brand records in load order
type Directory struct {
	records  []Record
	loadedAt time.Time
}

// NewDirectory builds a directory from records, mostly for tests and tooling
func NewDirectory(records []Record) *Directory {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Name = Normalize(r.Name)
		out[i] = r
	}
	return &Directory{records: out, loadedAt: time.Now()}
}

// ResolveFieldIDs fills in any missing field id by looking it up by name on the list
func ResolveFieldIDs(ctx context.Context, source clickup.TaskDirectory, listID string, ids FieldIDs, names FieldNames) (FieldIDs, error) {
	if ids.Internal != "" && ids.Member != "" {
		return ids, nil
	}

	fields, err := source.GetListFields(ctx, listID)
	if err != nil {
		return ids, fmt.Errorf("failed to look up brand folder fields: %w", err)
	}

	if ids.Internal == "" {
		id, ok := clickup.FieldIDByName(fields, names.Internal)
		if !ok {
			return ids, fmt.Errorf("field %q not found on list %s", names.Internal, listID)
		}
		ids.Internal = id
	}
	if ids.Member == "" {
		id, ok := clickup.FieldIDByName(fields, names.Member)
		if !ok {
			return ids, fmt.Errorf("field %q not found on list %s", names.Member, listID)
		}
		ids.Member = id
	}
	return ids, nil
}

// Load pages through the brand list starting at page 0 until an empty page.
// Missing field ids are looked up by name first. A page error ends pagination
// early and keeps what was loaded so far.
func Load(ctx context.Context, source clickup.TaskDirectory, listID string, ids FieldIDs, names FieldNames) (*Directory, error) {
	ids, err := ResolveFieldIDs(ctx, source, listID, ids, names)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var records []Record

	for page := 0; ; page++ {
		tasks, err := source.ListTasksPage(ctx, listID, page)
		if err != nil {
			logging.Warn("Stopped loading brand directory at page %d: %v", page, err)
			break
		}
		if len(tasks) == 0 {
			break
		}

		for _, task := range tasks {
			records = append(records, recordFromTask(task, ids))
		}
		logging.Debug("Loaded brand directory page %d (%d tasks)", page, len(tasks))
	}

	logging.LogPerformance(logging.PerformanceMetrics{
		Operation: "brand_directory_load",
		Duration:  time.Since(start),
		Success:   true,
		Metadata:  map[string]interface{}{"brands": len(records)},
	})
	logging.Info("Brand directory loaded with %d brands", len(records))

	return &Directory{records: records, loadedAt: time.Now()}, nil
}

func recordFromTask(task clickup.Task, ids FieldIDs) Record {
	r := Record{Name: Normalize(task.Name), TaskID: task.ID}
	if f, ok := task.Field(ids.Internal); ok {
		r.InternalFolderRef = f.StringValue()
	}
	if f, ok := task.Field(ids.Member); ok {
		r.MemberFolderRef = f.StringValue()
	}
	return r
}

// Normalize trims and case-folds a brand name
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve finds a brand by name. An exact match always wins over a prefix match,
// and among prefix matches the first in load order wins.
func (d *Directory) Resolve(name string) (Destination, bool) {
	clean := Normalize(name)
	if clean == "" {
		return Destination{}, false
	}

	for _, r := range d.records {
		if r.Name == clean {
			return r.destination(), true
		}
	}
	for _, r := range d.records {
		if strings.HasPrefix(r.Name, clean+" ") || strings.HasPrefix(r.Name, clean+"(") {
			return r.destination(), true
		}
	}
	return Destination{}, false
}

func (r Record) destination() Destination {
	return Destination{
		TaskID:           r.TaskID,
		BrandName:        r.Name,
		MemberFolderID:   ExtractID(r.MemberFolderRef),
		InternalFolderID: ExtractID(r.InternalFolderRef),
	}
}

// Records returns a copy of the loaded records
func (d *Directory) Records() []Record {
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

// Len returns the number of loaded brands
func (d *Directory) Len() int {
	return len(d.records)
}

// LoadedAt returns when the snapshot was built
func (d *Directory) LoadedAt() time.Time {
	return d.loadedAt
}

// ExtractID turns a folder link or bare id into a bare id.
// Links with an id= query use its value; otherwise the last path segment is taken.
func ExtractID(ref string) string {
	if ref == "" {
		return ""
	}

	id := ref
	if i := strings.Index(ref, "id="); i >= 0 {
		id = ref[i+len("id="):]
	} else {
		parts := strings.Split(ref, "/")
		id = parts[len(parts)-1]
		if id == "" && len(parts) > 1 {
			id = parts[len(parts)-2]
		}
	}

	if i := strings.Index(id, "?"); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSpace(id)
}
