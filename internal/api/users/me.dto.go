package users

import "time"

type MeResponse struct {
	User   UserDTO    `json:"user"`
	Groups []GroupDTO `json:"groups"`
}

/* ---------- USER ---------- */

type UserDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

/* ---------- GROUPS ---------- */

type GroupDTO struct {
	ID           string    `json:"id"`
	MemberID     string    `json:"member_id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Relationship string    `json:"relationship,omitempty"`
	CadenceDays  int       `json:"cadence_days"`
	OpenIssue    *IssueDTO `json:"open_issue"`
	Billable     bool      `json:"billable"`
}

type IssueDTO struct {
	ID           string    `json:"id"`
	IssueNumber  int       `json:"issue_number"`
	DeadlineDate time.Time `json:"deadline_date"`
	DaysLeft     int       `json:"days_left"`
	PostCount    int64     `json:"post_count"`
}
