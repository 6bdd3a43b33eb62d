package signaling

import "sort"

// identityIndex maps user identities to the connections that authenticated
// as them, and back. A connection carries at most one identity; a user may
// have any number of connections (several tabs or devices).
type identityIndex struct {
	byUser map[string]map[Handle]struct{}
	byConn map[Handle]string
}

func newIdentityIndex() *identityIndex {
	return &identityIndex{
		byUser: make(map[string]map[Handle]struct{}),
		byConn: make(map[Handle]string),
	}
}

// attach binds user to h, replacing any identity h had before. It returns the
// replaced identity, or "" if there was none.
func (ix *identityIndex) attach(h Handle, user string) (previous string) {
	previous = ix.detach(h)

	conns := ix.byUser[user]
	if conns == nil {
		conns = make(map[Handle]struct{})
		ix.byUser[user] = conns
	}
	conns[h] = struct{}{}
	ix.byConn[h] = user
	return previous
}

// detach forgets h and returns the identity it carried.
func (ix *identityIndex) detach(h Handle) string {
	user, ok := ix.byConn[h]
	if !ok {
		return ""
	}
	delete(ix.byConn, h)
	if conns := ix.byUser[user]; conns != nil {
		delete(conns, h)
		if len(conns) == 0 {
			delete(ix.byUser, user)
		}
	}
	return user
}

func (ix *identityIndex) identityOf(h Handle) (string, bool) {
	user, ok := ix.byConn[h]
	return user, ok
}

// connectionsOf returns the handles authenticated as user, sorted.
func (ix *identityIndex) connectionsOf(user string) []Handle {
	conns := ix.byUser[user]
	out := make([]Handle, 0, len(conns))
	for h := range conns {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// users is the number of distinct identities with at least one connection.
func (ix *identityIndex) users() int {
	return len(ix.byUser)
}
