// Package operation defines asynchronous operations with an observable
// completion state.
package operation

import "time"

// Status is the completion state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the operation has finished.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Kind names the lifecycle action an operation runs.
type Kind string

const (
	KindProvision     Kind = "provision"
	KindProvisionTest Kind = "provision-test"
)

// Result is the payload of a succeeded provisioning operation.
type Result struct {
	Subdomain string `json:"subdomain,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Operation is a snapshot of an asynchronous operation.
type Operation struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Username   string     `json:"username"`
	Status     Status     `json:"status"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
