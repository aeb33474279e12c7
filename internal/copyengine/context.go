package copyengine

import "context"

// NotifyAction is the kind of event reported to the notification callback.
type NotifyAction int

const (
	NotifyAdd NotifyAction = iota
	NotifyDelete
	NotifyCommitPostfix
)

// Notification is a single progress event, delivered to Ctx.Notify after
// a per-pair step has been carried out.
type Notification struct {
	Path   string
	Action NotifyAction
	Arm    string
}

// CommitItemKind mirrors the commit-item vocabulary used when building
// items for the log-message hook.
type CommitItemKind int

const (
	ItemAdd CommitItemKind = iota
	ItemDelete
)

// LogItem is what gets shown to the log-message hook.
type LogItem struct {
	Path string
	Kind CommitItemKind
}

// Ctx carries the collaborator callbacks shared across all four arms:
// cancellation, notification, log-message prompting, and a
// revision-property table builder.
type Ctx struct {
	// Cancel is consulted before each per-pair step and each tempfile
	// removal; a non-nil return aborts the operation.
	Cancel func() error

	// Notify reports per-pair progress; may be nil.
	Notify func(Notification)

	// LogMessage builds the commit log message from the given items. A nil
	// *string result with a nil error aborts the operation silently with
	// success. May be nil, in which case no hook runs and an empty message
	// is used for commit-producing arms.
	LogMessage func(items []LogItem) (msg *string, err error)

	// RevpropTable builds additional revision properties to attach to a
	// commit, merged with the log message under the "svn:log" key by the
	// caller. May be nil.
	RevpropTable func() (map[string]string, error)
}

func (c *Ctx) checkCancel(ctx context.Context) error {
	if c == nil || c.Cancel == nil {
		return nil
	}
	if err := c.Cancel(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Ctx) notify(n Notification) {
	if c != nil && c.Notify != nil {
		c.Notify(n)
	}
}

// buildRevprops assembles the revprop table for a commit-producing arm,
// invoking the log-message hook first. Returns (nil, nil, nil) to signal a
// silent abort (nil message) that the caller must treat as success.
func (c *Ctx) buildRevprops(items []LogItem) (map[string]string, *string, error) {
	var msg *string
	if c != nil && c.LogMessage != nil {
		m, err := c.LogMessage(items)
		if err != nil {
			return nil, nil, err
		}
		if m == nil {
			return nil, nil, nil // silent abort
		}
		msg = m
	} else {
		empty := ""
		msg = &empty
	}

	props := map[string]string{"svn:log": *msg}
	if c != nil && c.RevpropTable != nil {
		extra, err := c.RevpropTable()
		if err != nil {
			return nil, nil, err
		}
		for k, v := range extra {
			props[k] = v
		}
	}
	return props, msg, nil
}
