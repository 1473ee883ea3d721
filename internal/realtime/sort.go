package realtime

import "sort"

func sortIDs(ids []ConnectionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortScopes(scopes []Scope) {
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].Kind != scopes[j].Kind {
			return scopes[i].Kind < scopes[j].Kind
		}
		return scopes[i].ID < scopes[j].ID
	})
}
