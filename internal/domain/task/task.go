package task

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrRouteNotFound = errors.New("task route not found")
	ErrNoTaskInKey   = errors.New("object key has no task in its path")
)

// Param is one named layout parameter of a work item.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Row is one sanitized CSV data row. Order follows the CSV header.
type Row []Param

// Get returns the value of the named column.
func (r Row) Get(name string) (string, bool) {
	for _, p := range r {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// CreateRequest is a template merged with one row.
type CreateRequest struct {
	Template Template
	LayoutID string
	Params   Row
}

type WorkItem struct {
	ID     string `json:"id"`
	TypeID string `json:"typeId"`
}

// RoutingEntry maps a created work item back to the task that created it.
// Written once, never updated.
type RoutingEntry struct {
	WorkItemID string    `json:"workItemId"`
	TaskName   string    `json:"taskName"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Assignment struct {
	ID         string `json:"id"`
	WorkItemID string `json:"workItemId"`
	WorkerID   string `json:"workerId,omitempty"`
	AnswerXML  string `json:"-"`
}

// NameFromObjectKey returns the path segment before the first "/".
func NameFromObjectKey(objectKey string) (string, error) {
	i := strings.Index(objectKey, "/")
	if i <= 0 {
		return "", ErrNoTaskInKey
	}
	return objectKey[:i], nil
}
