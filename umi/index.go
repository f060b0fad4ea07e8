package umi

type umiEntry struct {
	canonical string
	umi       UMI
	members   []int
}

// umiIndex collects identical canonical UMIs.
type umiIndex struct {
	opts    *Opts
	entries map[string]*umiEntry
}

func newUMIIndex(opts *Opts, sizeHint int) *umiIndex {
	return &umiIndex{opts: opts, entries: make(map[string]*umiEntry, sizeHint)}
}

func (x *umiIndex) add(u UMI, member int) {
	canonical := x.opts.Canonical(u)
	if e, ok := x.entries[canonical]; ok {
		e.members = append(e.members, member)
		return
	}
	if len(u.Parts) == 2 && u.Parts[1] < u.Parts[0] {
		u = UMI{Parts: []string{u.Parts[1], u.Parts[0]}}
	}
	x.entries[canonical] = &umiEntry{canonical: canonical, umi: u, members: []int{member}}
}

// sorted returns the entries by decreasing abundance, then signature.
func (x *umiIndex) sorted() []*umiEntry {
	entries := make([]*umiEntry, 0, len(x.entries))
	for _, e := range x.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries
}
