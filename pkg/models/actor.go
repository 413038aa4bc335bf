package models

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type Chain struct {
	ID       string    `json:"id"`
	StartURL string    `json:"start_url"`
	State    State     `json:"state"`
	Tasks    []TaskRun `json:"tasks"`
	Errs     *Error    `json:"error,omitempty"`
}

type Status struct {
	Chain Chain `json:"chain"`
}

type Error struct {
	Err     error       `json:"-"`
	Message interface{} `json:"message,omitempty"`
	Time    *time.Time  `json:"time,omitempty"`
}

func (e Error) MarshalJSON() ([]byte, error) {
	type alias Error
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias(e), errMsg})
}

// TaskRun is one attempt to solve a single page URL. It is never persisted.
type TaskRun struct {
	ID       string     `json:"id"`
	URL      string     `json:"url"`
	Index    int        `json:"index"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
	NextURL  string     `json:"next_url,omitempty"`
}

func NewTaskRun(url string, index int, started time.Time) TaskRun {
	return TaskRun{
		ID:      ulid.Make().String(),
		URL:     url,
		Index:   index,
		Started: started,
	}
}

// SubmitOutcome is what the submission tool reports back to the model.
type SubmitOutcome struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"status_code,omitempty"`
	Correct    bool           `json:"correct"`
	Reason     string         `json:"reason,omitempty"`
	NextURL    *string        `json:"next_url"`
	Data       map[string]any `json:"data,omitempty"`
	Attempt    int            `json:"attempt"`
	Error      string         `json:"error,omitempty"`
}
