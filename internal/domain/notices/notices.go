// Package notices names the notifications the orchestrator emits.
package notices

type Kind string

const (
	DeadlineWarning Kind = "deadline_warning"
	IssueClosed     Kind = "issue_closed"
	IssuePublished  Kind = "issue_published"
	BookShipped     Kind = "book_shipped"
	BookDelivered   Kind = "book_delivered"
	GroupDeleted    Kind = "group_deleted"
)

// Payload keys understood by every notifier.
const (
	KeyEmails    = "emails"
	KeyGroupName = "group_name"
	KeyIssueNo   = "issue_number"
	KeyDeadline  = "deadline"
)

type Payload map[string]any

// Subject is the human-facing title of a notification.
func Subject(k Kind) string {
	switch k {
	case DeadlineWarning:
		return "One week left to post"
	case IssueClosed:
		return "This issue is closed"
	case IssuePublished:
		return "Your family book is published"
	case BookShipped:
		return "Your family book is on its way"
	case BookDelivered:
		return "Your family book was delivered"
	case GroupDeleted:
		return "Your family group was deleted"
	}
	return string(k)
}
