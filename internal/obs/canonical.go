package obs

import "strings"

// CanonicalPath collapses resource identifiers in request paths so metric
// labels stay low-cardinality. Unknown layouts are passed through untouched.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) < 3 || segs[0] != "v1" {
		return path
	}

	switch segs[1] {
	case "contracts":
		segs[2] = ":id"
		// /v1/contracts/:id/offers/:offer_id/...
		if len(segs) >= 5 && segs[3] == "offers" {
			segs[4] = ":offer_id"
		}
	case "offers":
		segs[2] = ":id"
	case "audit":
		// /v1/audit/:entity_type/:entity_id
		if len(segs) >= 4 {
			segs[3] = ":entity_id"
		}
	default:
		return path
	}
	return "/" + strings.Join(segs, "/")
}
