package model

// PageInfo carries pagination data returned with result pages.
type PageInfo struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"pageSize"`
	TotalCount  int  `json:"totalCount"`
	HasNextPage bool `json:"hasNextPage"`
}

// ResultAction is an action offered by a run result.
type ResultAction struct {
	Action     OperationDescriptor `json:"action"`
	Parameters map[string]string   `json:"parameters,omitempty"`
	Primary    bool                `json:"primary,omitempty"`
}

// RunOperationResult is the structured result of a non-binary run.
type RunOperationResult struct {
	ResultType        ResultType           `json:"resultType"`
	Title             string               `json:"title,omitempty"`
	Notification      string               `json:"notification,omitempty"`
	NotificationLevel NotificationLevel    `json:"notificationLevel,omitempty"`
	URL               string               `json:"url,omitempty"`
	Content           string               `json:"content,omitempty"`
	Columns           []string             `json:"columns,omitempty"`
	Rows              []map[string]any     `json:"rows,omitempty"`
	Page              *PageInfo            `json:"page,omitempty"`
	Actions           []ResultAction       `json:"actions,omitempty"`
	BackTo            *OperationDescriptor `json:"backTo,omitempty"`
	BackToRoot        bool                 `json:"backToRoot,omitempty"`
	ReRun             bool                 `json:"reRun,omitempty"`
	AutoRunActionID   string               `json:"autoRunActionId,omitempty"`
}

// Level returns the notification level, defaulting to information.
func (r *RunOperationResult) Level() NotificationLevel {
	if r.NotificationLevel == "" {
		return LevelInformation
	}
	return r.NotificationLevel
}

// AutoRunAction returns the action whose descriptor id equals AutoRunActionID.
func (r *RunOperationResult) AutoRunAction() (ResultAction, bool) {
	if r.AutoRunActionID == "" {
		return ResultAction{}, false
	}
	for _, a := range r.Actions {
		if a.Action.ID == r.AutoRunActionID {
			return a, true
		}
	}
	return ResultAction{}, false
}

// Outcome is the result of dispatching a run request. It is implemented only
// by BinaryOutcome and JSONOutcome.
type Outcome interface {
	outcome()
}

// BinaryOutcome is a file returned by the server.
type BinaryOutcome struct {
	Blob        []byte
	Filename    string
	ContentType string
}

// JSONOutcome is a structured run result.
type JSONOutcome struct {
	Result RunOperationResult
}

func (BinaryOutcome) outcome() {}
func (JSONOutcome) outcome()   {}
