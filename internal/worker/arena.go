package worker

// tileArena stores loaded tiles densely with a uid lookup.
// Removal swaps the last slot into the hole.
type tileArena struct {
	slots []*WorkerTile
	index map[UID]int
}

func newTileArena() *tileArena {
	return &tileArena{index: make(map[UID]int)}
}

func (a *tileArena) get(uid UID) *WorkerTile {
	if i, ok := a.index[uid]; ok {
		return a.slots[i]
	}
	return nil
}

// put stores wt, replacing any tile with the same uid.
func (a *tileArena) put(wt *WorkerTile) {
	if i, ok := a.index[wt.uid]; ok {
		a.slots[i] = wt
		return
	}
	a.index[wt.uid] = len(a.slots)
	a.slots = append(a.slots, wt)
}

func (a *tileArena) remove(uid UID) *WorkerTile {
	i, ok := a.index[uid]
	if !ok {
		return nil
	}
	wt := a.slots[i]
	last := len(a.slots) - 1
	if i != last {
		a.slots[i] = a.slots[last]
		a.index[a.slots[i].uid] = i
	}
	a.slots[last] = nil
	a.slots = a.slots[:last]
	delete(a.index, uid)
	return wt
}

func (a *tileArena) len() int { return len(a.slots) }

// clear drops every tile and returns them.
func (a *tileArena) clear() []*WorkerTile {
	tiles := a.slots
	a.slots = nil
	a.index = make(map[UID]int)
	return tiles
}
