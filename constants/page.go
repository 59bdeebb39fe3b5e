package constants

// PageRole classifies a page's function within an invoice document.
type PageRole string

const (
	PageRoleCover        PageRole = "cover"
	PageRoleMain         PageRole = "main"
	PageRoleDetail       PageRole = "detail"
	PageRoleContinuation PageRole = "continuation"
	PageRoleReply        PageRole = "reply"
)

// PageRoles lists the accepted role tags, in schema order.
func PageRoles() []string {
	return []string{
		string(PageRoleCover),
		string(PageRoleMain),
		string(PageRoleDetail),
		string(PageRoleContinuation),
		string(PageRoleReply),
	}
}
