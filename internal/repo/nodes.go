package repo

import "github.com/hamed0406/servicestatus/internal/domain"

// GetByID returns the first node with the given id.
func GetByID(nodes []domain.Endpoint, id domain.EndpointID) (domain.Endpoint, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return domain.Endpoint{}, false
}

// Upsert returns a copy of nodes with the matching node replaced at its
// position, or with node appended. The input is left untouched.
func Upsert(nodes []domain.Endpoint, node domain.Endpoint) []domain.Endpoint {
	out := make([]domain.Endpoint, len(nodes), len(nodes)+1)
	copy(out, nodes)
	for i := range out {
		if out[i].ID == node.ID {
			out[i] = node
			return out
		}
	}
	return append(out, node)
}

// RemoveByID returns a copy of nodes without any node carrying id.
func RemoveByID(nodes []domain.Endpoint, id domain.EndpointID) []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

// AllOnline is true when nodes is empty or every node is online.
func AllOnline(nodes []domain.Endpoint) bool {
	for _, n := range nodes {
		if !n.Online {
			return false
		}
	}
	return true
}

// Sanitize drops records without an id.
func Sanitize(nodes []domain.Endpoint) []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}
