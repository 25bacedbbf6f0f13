package issues

// ProductionRequest is what the renderer receives to lay out one book.
type ProductionRequest struct {
	BookID      string           `json:"book_id"`
	IssueID     string           `json:"issue_id"`
	GroupID     string           `json:"group_id"`
	IssueNumber int              `json:"issue_number"`
	Deadline    string           `json:"deadline"`
	Posts       []ProductionPost `json:"posts"`
}

type ProductionPost struct {
	PostID    string   `json:"post_id"`
	Author    string   `json:"author"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls"`
}

func NewProductionRequest(book Book, issue Issue, posts []Post) ProductionRequest {
	req := ProductionRequest{
		BookID:      book.ID,
		IssueID:     issue.ID,
		GroupID:     issue.GroupID,
		IssueNumber: issue.IssueNumber,
		Deadline:    issue.DeadlineDate.Format("2006-01-02"),
		Posts:       make([]ProductionPost, 0, len(posts)),
	}
	for _, p := range posts {
		author := ""
		if p.Author != nil {
			author = p.Author.Name
		}
		req.Posts = append(req.Posts, ProductionPost{
			PostID:    p.ID,
			Author:    author,
			Content:   p.Content,
			ImageURLs: []string(p.ImageURLs),
		})
	}
	return req
}
