package brands

import (
	"context"
	"errors"
	"testing"

	"github.com/curtbushko/zoom-watchman/internal/clickup"
)

type fakeSource struct {
	fields    []clickup.Field
	fieldsErr error
	pages     [][]clickup.Task
	failAt    int
	calls     []int
}

func (f *fakeSource) GetListFields(ctx context.Context, listID string) ([]clickup.Field, error) {
	return f.fields, f.fieldsErr
}

func (f *fakeSource) ListTasksPage(ctx context.Context, listID string, page int) ([]clickup.Task, error) {
	f.calls = append(f.calls, page)
	if f.failAt > 0 && page == f.failAt {
		return nil, errors.New("rate limited")
	}
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

func (f *fakeSource) GetTask(ctx context.Context, taskID string) (*clickup.Task, error) {
	return nil, nil
}

func (f *fakeSource) SetCustomField(ctx context.Context, taskID, fieldID string, value interface{}) error {
	return nil
}

func task(id, name, internal, member string) clickup.Task {
	t := clickup.Task{ID: id, Name: name}
	if internal != "" {
		t.CustomFields = append(t.CustomFields, clickup.CustomField{ID: "f-int", Value: internal})
	}
	if member != "" {
		t.CustomFields = append(t.CustomFields, clickup.CustomField{ID: "f-mem", Value: member})
	}
	return t
}

func TestLoadPagesUntilEmpty(t *testing.T) {
	src := &fakeSource{
		fields: []clickup.Field{{ID: "f-int", Name: "Internal Folder"}, {ID: "f-mem", Name: "Member Folder"}},
		pages: [][]clickup.Task{
			{task("t1", "  Acme ", "https://app.box.com/folder/111", "https://app.box.com/folder/222")},
			{task("t2", "Widgets (Q3)", "333", "")},
		},
	}

	dir, err := Load(context.Background(), src, "list", FieldIDs{}, FieldNames{Internal: "Internal Folder", Member: "Member Folder"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if dir.Len() != 2 {
		t.Fatalf("Expected 2 brands, got %d", dir.Len())
	}
	if len(src.calls) != 3 || src.calls[2] != 2 {
		t.Errorf("Expected pages 0,1,2 to be requested, got %v", src.calls)
	}

	records := dir.Records()
	if records[0].Name != "acme" || records[0].InternalFolderRef != "https://app.box.com/folder/111" {
		t.Errorf("Unexpected first record %+v", records[0])
	}
	if records[1].MemberFolderRef != "" {
		t.Errorf("Expected empty member ref for missing field, got %q", records[1].MemberFolderRef)
	}
}

func TestLoadStopsOnPageError(t *testing.T) {
	src := &fakeSource{
		pages: [][]clickup.Task{
			{task("t1", "Acme", "1", "2")},
			{task("t2", "Beta", "3", "4")},
		},
		failAt: 1,
	}

	dir, err := Load(context.Background(), src, "list", FieldIDs{Internal: "f-int", Member: "f-mem"}, FieldNames{})
	if err != nil {
		t.Fatalf("A page error should not fail the load: %v", err)
	}
	if dir.Len() != 1 {
		t.Errorf("Expected the brands loaded before the error, got %d", dir.Len())
	}
}

func TestLoadFieldLookupFailure(t *testing.T) {
	src := &fakeSource{fields: []clickup.Field{{ID: "f-int", Name: "Internal Folder"}}}
	_, err := Load(context.Background(), src, "list", FieldIDs{}, FieldNames{Internal: "Internal Folder", Member: "Member Folder"})
	if err == nil {
		t.Error("Expected error for missing member field")
	}

	src = &fakeSource{fieldsErr: errors.New("unauthorized")}
	if _, err := Load(context.Background(), src, "list", FieldIDs{}, FieldNames{Internal: "a", Member: "b"}); err == nil {
		t.Error("Expected error when field lookup fails")
	}
}

func TestResolveExactBeforePrefix(t *testing.T) {
	dir := NewDirectory([]Record{
		{Name: "Acme (Q3)", TaskID: "prefix", InternalFolderRef: "p-int"},
		{Name: "Acme", TaskID: "exact", InternalFolderRef: "e-int"},
	})

	dest, ok := dir.Resolve("  ACME ")
	if !ok {
		t.Fatal("Expected a match")
	}
	if dest.TaskID != "exact" {
		t.Errorf("Expected exact match to win, got %s", dest.TaskID)
	}
}

func TestResolvePrefixMatch(t *testing.T) {
	dir := NewDirectory([]Record{
		{Name: "Acmeson", TaskID: "wrong"},
		{Name: "Acme (Q3)", TaskID: "paren", InternalFolderRef: "https://app.box.com/folder/9"},
		{Name: "Acme Holdings", TaskID: "space"},
	})

	dest, ok := dir.Resolve("Acme")
	if !ok || dest.TaskID != "paren" {
		t.Errorf("Expected first prefix match in load order, got %+v (%v)", dest, ok)
	}
	if dest.InternalFolderID != "9" {
		t.Errorf("Expected extracted folder id, got %q", dest.InternalFolderID)
	}

	if _, ok := dir.Resolve("Acmes"); ok {
		t.Error("A bare prefix without space or paren must not match")
	}
}

func TestResolveDuplicatesTakeFirst(t *testing.T) {
	dir := NewDirectory([]Record{
		{Name: "Acme", TaskID: "first"},
		{Name: "acme", TaskID: "second"},
	})
	dest, _ := dir.Resolve("acme")
	if dest.TaskID != "first" {
		t.Errorf("Expected first duplicate, got %s", dest.TaskID)
	}
}

func TestResolveEmptyName(t *testing.T) {
	dir := NewDirectory([]Record{{Name: "", TaskID: "blank"}})
	if _, ok := dir.Resolve("   "); ok {
		t.Error("Expected blank names not to resolve")
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{ref: "", want: ""},
		{ref: "12345", want: "12345"},
		{ref: "https://app.box.com/folder/12345", want: "12345"},
		{ref: "https://app.box.com/folder/12345/", want: "12345"},
		{ref: "https://app.box.com/folder/12345?s=abc", want: "12345"},
		{ref: "https://drive.google.com/open?id=1AbC_dEf", want: "1AbC_dEf"},
		{ref: " https://app.box.com/folder/777 ", want: "777"},
	}

	for _, tt := range tests {
		got := ExtractID(tt.ref)
		if got != tt.want {
			t.Errorf("ExtractID(%q) = %q, want %q", tt.ref, got, tt.want)
		}
		if again := ExtractID(got); again != got {
			t.Errorf("ExtractID is not idempotent on %q: got %q", got, again)
		}
	}
}
