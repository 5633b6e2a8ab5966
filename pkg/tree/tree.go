// Package tree builds the display tree from a flat list of logical files and
// provides lookup helpers over it.
package tree

import (
	"sort"
	"strings"
	"time"

	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

var epoch = time.Unix(0, 0)

// Build converts a flat file list into sorted root-level nodes.
//
// Directories are created for every ancestor segment of every directory
// entry, interned by cumulative path. Files are attached under their
// immediate parent; if that directory is not in the tree the nearest existing
// ancestor (or the root) receives the file.
func Build(files []models.LogicalFile) []models.Node {
	dirs := make(map[string]*models.DirNode)
	root := make([]models.Node, 0)

	for _, f := range files {
		if !f.IsDirectory {
			continue
		}
		current := &root
		cumulative := ""
		for _, part := range strings.Split(f.Pathname, "/") {
			if part == "" {
				continue
			}
			if cumulative == "" {
				cumulative = part
			} else {
				cumulative += "/" + part
			}

			dir, ok := dirs[cumulative]
			if !ok {
				dir = &models.DirNode{
					ID:         cumulative,
					Name:       part,
					UploadedAt: f.UploadedAt,
					Children:   make([]models.Node, 0),
				}
				dirs[cumulative] = dir
				*current = append(*current, dir)
			}
			current = &dir.Children
		}
	}

	for _, f := range files {
		if f.IsDirectory {
			continue
		}
		parts := strings.Split(f.Pathname, "/")
		current := &root
		cumulative := ""
		for _, part := range parts[:len(parts)-1] {
			if part == "" {
				continue
			}
			if cumulative == "" {
				cumulative = part
			} else {
				cumulative += "/" + part
			}
			if dir, ok := dirs[cumulative]; ok {
				current = &dir.Children
			}
		}
		*current = append(*current, &models.FileNode{
			ID:         f.Pathname,
			Name:       parts[len(parts)-1],
			UploadedAt: f.UploadedAt,
			File:       f,
		})
	}

	return sortRecursive(root)
}

func sortRecursive(nodes []models.Node) []models.Node {
	sortNodes(nodes)
	for _, n := range nodes {
		if dir, ok := n.(*models.DirNode); ok {
			dir.Children = sortRecursive(dir.Children)
		}
	}
	return nodes
}

// sortNodes orders directories before files, each group newest first.
func sortNodes(nodes []models.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		_, iDir := nodes[i].(*models.DirNode)
		_, jDir := nodes[j].(*models.DirNode)
		if iDir != jDir {
			return iDir
		}
		return sortTime(nodes[i]).After(sortTime(nodes[j]))
	})
}

func sortTime(n models.Node) time.Time {
	t := n.ModTime()
	if t.IsZero() {
		return epoch
	}
	return t
}

// IsDir reports whether n is a directory node.
func IsDir(n models.Node) bool {
	_, ok := n.(*models.DirNode)
	return ok
}

// Children returns the children of a directory node, or nil for files.
func Children(n models.Node) []models.Node {
	if dir, ok := n.(*models.DirNode); ok {
		return dir.Children
	}
	return nil
}

// FindByID resolves a node id in the tree (recursive). A trailing slash on
// id is ignored so directory pathnames can be used directly.
func FindByID(nodes []models.Node, id string) models.Node {
	id = pathname.TrimDir(id)
	for _, n := range nodes {
		if n.NodeID() == id {
			return n
		}
		if found := FindByID(Children(n), id); found != nil {
			return found
		}
	}
	return nil
}

// CountNodes counts all nodes in the tree.
func CountNodes(nodes []models.Node) int {
	count := 0
	for _, n := range nodes {
		count += 1 + CountNodes(Children(n))
	}
	return count
}

// Walk visits every node depth-first, parents before children. Returning
// false from fn skips the node's children.
func Walk(nodes []models.Node, fn func(n models.Node, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []models.Node, depth int, fn func(models.Node, int) bool) {
	for _, n := range nodes {
		if fn(n, depth) {
			walk(Children(n), depth+1, fn)
		}
	}
}

// Flatten returns all nodes in a flat map keyed by id.
func Flatten(nodes []models.Node) map[string]models.Node {
	result := make(map[string]models.Node)
	Walk(nodes, func(n models.Node, _ int) bool {
		result[n.NodeID()] = n
		return true
	})
	return result
}
