package models

// GroupContext carries the tenant isolation metadata of a job.
type GroupContext struct {
	GroupID    string `json:"group_id"    validate:"required"`
	GroupEmail string `json:"group_email" validate:"omitempty,email"`
}

// ID returns the group id, tolerating a nil context.
func (g *GroupContext) ID() string {
	if g == nil {
		return ""
	}

	return g.GroupID
}

// Email returns the group email, tolerating a nil context.
func (g *GroupContext) Email() string {
	if g == nil {
		return ""
	}

	return g.GroupEmail
}
