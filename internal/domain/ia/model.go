package ia

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound    = errors.New("ia task not found")
	ErrInvalidTask = errors.New("invalid ia task")
)

// Task statuses.
const (
	StatusQueued = "queued"
)

// TaskParameters narrows the matching set and picks the algorithms.
type TaskParameters struct {
	MatchingSetFilter  map[string]interface{}   `json:"matchingSetFilter"`
	MatchingAlgorithms []map[string]interface{} `json:"matchingAlgorithms"`
}

// TaskRequest is the body of POST /ia.
type TaskRequest struct {
	V2             bool           `json:"v2"`
	TaskParameters TaskParameters `json:"taskParameters"`
	AnnotationIDs  []string       `json:"annotationIds" validate:"required,min=1,dive,required"`
	Fastlane       bool           `json:"fastlane"`
}

// Task is a persisted match job.
type Task struct {
	ID        string      `json:"taskId"`
	Status    string      `json:"status"`
	Request   TaskRequest `json:"request"`
	CreatedAt time.Time   `json:"createdAt"`
}

var taskValidate = validator.New()

// Validate checks the request carries at least one annotation id.
func (r *TaskRequest) Validate() error {
	if err := taskValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidTask, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}
