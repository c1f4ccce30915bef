package anihive

// NavItem is one entry of the header menu.
type NavItem struct {
	Title  string `json:"title"`
	Href   string `json:"href"`
	Active bool   `json:"active"`
}

// DefaultNavigation is the header menu of the catalog. Titles are message
// keys.
var DefaultNavigation = []NavItem{
	{Title: "Top Anime", Href: "/login"},
	{Title: "Top Manga", Href: "/top-manga"},
	{Title: "Top Manhua", Href: "/top-manhua"},
	{Title: "Characters", Href: "/characters"},
	{Title: "Genres", Href: "/genres"},
}

// BuildNavigation copies items, translating titles with tr and marking the
// entry whose href equals pathname as active.
func BuildNavigation(items []NavItem, pathname string, tr func(string) string) []NavItem {
	out := make([]NavItem, len(items))
	for i, item := range items {
		if tr != nil {
			item.Title = tr(item.Title)
		}
		item.Active = item.Href == pathname
		out[i] = item
	}
	return out
}
