package workflow

import "fmt"

// ConfigurationError reports a corrupt workflow or registration-type
// configuration. It is never a user input problem; callers must abort
// rather than fall back to a default.
type ConfigurationError struct {
	Workflow  string
	Reference string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Workflow != "" && e.Reference != "":
		return fmt.Sprintf("workflow %q: %s: %s", e.Workflow, e.Reference, e.Reason)
	case e.Workflow != "":
		return fmt.Sprintf("workflow %q: %s", e.Workflow, e.Reason)
	case e.Reference != "":
		return fmt.Sprintf("registration config: %s: %s", e.Reference, e.Reason)
	default:
		return "registration config: " + e.Reason
	}
}

func configError(workflowID, ref, reason string) *ConfigurationError {
	return &ConfigurationError{Workflow: workflowID, Reference: ref, Reason: reason}
}
