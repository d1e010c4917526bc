package readmodel

import (
	"fmt"
	"sort"
	"strings"

	"vlog-platform/internal/domain"
)

// TreeNode is a category with its active descendants.
type TreeNode struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Slug         string      `json:"slug,omitempty"`
	Description  string      `json:"description,omitempty"`
	ParentID     string      `json:"parentId,omitempty"`
	Order        int         `json:"order"`
	ContentCount int64       `json:"contentCount"`
	Children     []*TreeNode `json:"children"`
}

// index keeps the last category seen for each id.
func index(cats []domain.Category) (map[string]domain.Category, []string) {
	byID := make(map[string]domain.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return byID, ids
}

// DetectCycle walks every parent chain once and fails on the first category
// that is its own ancestor. Ids are visited in sorted order so the reported
// cycle is stable.
func DetectCycle(cats []domain.Category) error {
	byID, ids := index(cats)
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(byID))
	for _, start := range ids {
		if color[start] != white {
			continue
		}
		var path []string
		id := start
		for {
			c, ok := byID[id]
			if !ok || color[id] == black {
				break
			}
			if color[id] == gray {
				cycle := append(path[indexOf(path, id):], id)
				return fmt.Errorf("%w: %s", domain.ErrCycle, strings.Join(cycle, " -> "))
			}
			color[id] = gray
			path = append(path, id)
			if c.ParentID == "" {
				break
			}
			id = c.ParentID
		}
		for _, p := range path {
			color[p] = black
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

// CheckReparent reports whether moving id under parentID would create a
// cycle in cats.
func CheckReparent(cats []domain.Category, id, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return fmt.Errorf("%w: %s -> %s", domain.ErrCycle, id, id)
	}
	next := make([]domain.Category, 0, len(cats)+1)
	found := false
	for _, c := range cats {
		if c.ID == id {
			c.ParentID = parentID
			found = true
		}
		next = append(next, c)
	}
	if !found {
		next = append(next, domain.Category{ID: id, ParentID: parentID})
	}
	return DetectCycle(next)
}

// BuildTree materialises active categories into a forest ordered by
// (order, name). Categories whose parent is missing or inactive are
// returned as orphans and left out of the tree.
func BuildTree(cats []domain.Category) ([]*TreeNode, []string, error) {
	if err := DetectCycle(cats); err != nil {
		return nil, nil, err
	}
	byID, ids := index(cats)

	nodes := make(map[string]*TreeNode, len(byID))
	for _, id := range ids {
		c := byID[id]
		if !c.IsActive {
			continue
		}
		nodes[id] = &TreeNode{
			ID:           c.ID,
			Name:         c.Name,
			Slug:         c.Slug,
			Description:  c.Description,
			ParentID:     c.ParentID,
			Order:        c.Order,
			ContentCount: c.ContentCount,
			Children:     []*TreeNode{},
		}
	}

	children := make(map[string][]*TreeNode, len(nodes))
	var roots []*TreeNode
	var orphans []string
	for _, id := range ids {
		n, ok := nodes[id]
		if !ok {
			continue
		}
		switch {
		case n.ParentID == "":
			roots = append(roots, n)
		case nodes[n.ParentID] != nil:
			children[n.ParentID] = append(children[n.ParentID], n)
		default:
			orphans = append(orphans, id)
		}
	}
	for id, kids := range children {
		sortNodes(kids)
		nodes[id].Children = kids
	}
	sortNodes(roots)
	if roots == nil {
		roots = []*TreeNode{}
	}
	return roots, orphans, nil
}

func sortNodes(nodes []*TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].Name < nodes[j].Name
	})
}
