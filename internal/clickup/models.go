// Package clickup provides a client for the ClickUp task directory that holds brand records
package clickup

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Field is a custom field definition on a list
type Field struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// CustomField is a custom field value attached to a task
type CustomField struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value,omitempty"`
}

// Task is the subset of a ClickUp task the watchman reads
type Task struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	URL          string        `json:"url,omitempty"`
	CustomFields []CustomField `json:"custom_fields"`
}

type listFieldsResponse struct {
	Fields []Field `json:"fields"`
}

type listTasksResponse struct {
	Tasks    []Task `json:"tasks"`
	LastPage bool   `json:"last_page"`
}

// Field returns the custom field with the given id
func (t Task) Field(fieldID string) (CustomField, bool) {
	for _, f := range t.CustomFields {
		if f.ID == fieldID {
			return f, true
		}
	}
	return CustomField{}, false
}

// StringValue returns the field value as text, empty when unset
func (f CustomField) StringValue() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Int64Value parses the field value as an integer such as a date in epoch milliseconds.
// Unset or unparsable values read as 0.
func (f CustomField) Int64Value() int64 {
	s := strings.TrimSpace(f.StringValue())
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(fl)
	}
	return 0
}

// FieldIDByName returns the id of the first field whose name matches exactly
func FieldIDByName(fields []Field, name string) (string, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.ID, true
		}
	}
	return "", false
}
