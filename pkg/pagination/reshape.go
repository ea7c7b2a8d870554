package pagination

// Reshaper rewrites one node before it becomes a record. Returning false
// drops the node.
type Reshaper func(node map[string]any) (map[string]any, bool)

// RequireTypename drops nodes whose __typename is not typename.
func RequireTypename(typename string) Reshaper {
	return func(node map[string]any) (map[string]any, bool) {
		got, _ := node["__typename"].(string)
		return node, got == typename
	}
}

// PromoteParent replaces the nested object at field by flat fields:
// mapping maps the nested key to the new top-level name. A missing or null
// parent yields null promoted fields.
func PromoteParent(field string, mapping map[string]string) Reshaper {
	return func(node map[string]any) (map[string]any, bool) {
		parent, _ := node[field].(map[string]any)
		for from, to := range mapping {
			var v any
			if parent != nil {
				v = parent[from]
			}
			node[to] = v
		}
		delete(node, field)
		return node, true
	}
}

// DropFields removes the named fields when present.
func DropFields(names ...string) Reshaper {
	return func(node map[string]any) (map[string]any, bool) {
		for _, name := range names {
			delete(node, name)
		}
		return node, true
	}
}

func reshape(node map[string]any, reshapers []Reshaper) (map[string]any, bool) {
	if node == nil {
		return nil, false
	}
	keep := true
	for _, r := range reshapers {
		if node, keep = r(node); !keep {
			return nil, false
		}
	}
	return node, true
}
