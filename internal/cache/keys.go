package cache

import "strings"

const sep = ":"

// Key builds the single-entity key "{entity}:{id}".
func Key(entity, id string) string {
	return entity + sep + id
}

// Shape builds a list/aggregate key "{entity}:{part}:{part}...".
func Shape(entity string, parts ...string) string {
	if len(parts) == 0 {
		return entity
	}
	return entity + sep + strings.Join(parts, sep)
}

// Pattern matches every key sharing the given prefix shape.
func Pattern(entity string, parts ...string) string {
	return Shape(entity, parts...) + sep + "*"
}

func isPattern(key string) bool {
	return strings.ContainsAny(key, "*?[")
}

// label is the entity segment of a key, used as a metrics label.
func label(key string) string {
	if i := strings.Index(key, sep); i > 0 {
		return key[:i]
	}
	return key
}
