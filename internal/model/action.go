package model

// Action is an operation an administrator may run against a dataset.
type Action string

const (
	ActionVerify     Action = "verify"
	ActionApply      Action = "apply"
	ActionDelete     Action = "delete"
	ActionViewIssues Action = "view-issues"
)

// AvailableActions returns the actions offered for a dataset in the given
// status. Error datasets are terminal: they can only be inspected or deleted.
func AvailableActions(status DatasetStatus) []Action {
	switch status {
	case StatusPending:
		return []Action{ActionVerify}
	case StatusVerified:
		return []Action{ActionApply, ActionViewIssues}
	case StatusError:
		return []Action{ActionDelete, ActionViewIssues}
	}
	return nil
}

// Allows reports whether action is available in status.
func Allows(status DatasetStatus, action Action) bool {
	for _, a := range AvailableActions(status) {
		if a == action {
			return true
		}
	}
	return false
}
