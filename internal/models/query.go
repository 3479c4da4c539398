package models

// SearchMode selects which ranking(s) feed a recall query.
type SearchMode string

const (
	SearchModeText   SearchMode = "text"
	SearchModeVector SearchMode = "vector"
	SearchModeHybrid SearchMode = "hybrid"
)

// DetailLevel controls how much of each hit's Memory is materialized.
type DetailLevel string

const (
	DetailLight  DetailLevel = "light"
	DetailMedium DetailLevel = "medium"
	DetailFull   DetailLevel = "full"
)

// Filter narrows a search or list-all query over facets. A zero value on any
// field means "no constraint on this facet"; Tags uses OR-within-set,
// AND-across-calls-of-WithTags semantics (Open Question (a), decided).
type Filter struct {
	Namespaces []Namespace
	Domain     *Domain
	Status     []Status
	Tags       []string

	UserID  string
	AgentID string
	GroupID string
	Project string
	Branch  string
	File    string

	IncludeTombstoned bool
	IncludeExpired    bool
}

// SearchQuery is the input to Recall.Search.
type SearchQuery struct {
	Query  string
	Mode   SearchMode
	Filter Filter
	Limit  int
	Offset int
	Detail DetailLevel
}
