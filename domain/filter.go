package domain

import (
	"sort"
	"strings"
)

// BoardFilter narrows a board query. The zero value matches everything.
type BoardFilter struct {
	Text        string `query:"txt"`
	StarredOnly bool   `query:"starred"`
}

// Match reports whether b passes the filter. Text is a case-insensitive
// substring match on the title.
func (f BoardFilter) Match(b Board) bool {
	if f.StarredOnly && !b.IsStarred {
		return false
	}
	if f.Text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Title), strings.ToLower(f.Text))
}

// SortBoards orders boards by title then id so query results are stable.
func SortBoards(boards []Board) {
	sort.SliceStable(boards, func(i, j int) bool {
		if boards[i].Title != boards[j].Title {
			return boards[i].Title < boards[j].Title
		}
		return boards[i].ID < boards[j].ID
	})
}
