package tracer

import (
	"slices"

	"github.com/langchain-ai/langserve-go/internal/model"
)

// Filter decides whether a sub-run is represented in the log. With no include
// sets configured every run is included; otherwise a run is included when it
// matches any include criterion (OR across name, type, tags). Each configured
// exclude set then vetoes independently, so a run matching an include and an
// exclude on the same dimension stays out.
type Filter struct {
	IncludeNames []string
	IncludeTypes []string
	IncludeTags  []string
	ExcludeNames []string
	ExcludeTypes []string
	ExcludeTags  []string
}

func (f Filter) Include(run *model.Run) bool {
	include := f.IncludeNames == nil && f.IncludeTypes == nil && f.IncludeTags == nil
	if f.IncludeNames != nil {
		include = include || slices.Contains(f.IncludeNames, run.Name)
	}
	if f.IncludeTypes != nil {
		include = include || slices.Contains(f.IncludeTypes, run.RunType)
	}
	if f.IncludeTags != nil {
		include = include || anyCommon(f.IncludeTags, run.Tags)
	}
	if f.ExcludeNames != nil {
		include = include && !slices.Contains(f.ExcludeNames, run.Name)
	}
	if f.ExcludeTypes != nil {
		include = include && !slices.Contains(f.ExcludeTypes, run.RunType)
	}
	if f.ExcludeTags != nil {
		include = include && !anyCommon(f.ExcludeTags, run.Tags)
	}
	return include
}

func anyCommon(set, tags []string) bool {
	for _, t := range tags {
		if slices.Contains(set, t) {
			return true
		}
	}
	return false
}
