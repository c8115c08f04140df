package worker

import "testing"

func TestTileArena(t *testing.T) {
	a := newTileArena()
	for uid := UID(1); uid <= 4; uid++ {
		a.put(&WorkerTile{uid: uid})
	}
	if a.len() != 4 {
		t.Fatalf("len = %d, want 4", a.len())
	}

	replacement := &WorkerTile{uid: 2}
	a.put(replacement)
	if a.len() != 4 || a.get(2) != replacement {
		t.Error("put did not replace tile 2")
	}

	if a.remove(1) == nil {
		t.Fatal("remove(1) found nothing")
	}
	if a.remove(1) != nil {
		t.Error("second remove(1) found a tile")
	}
	for _, uid := range []UID{2, 3, 4} {
		if wt := a.get(uid); wt == nil || wt.uid != uid {
			t.Errorf("get(%d) = %v after swap remove", uid, wt)
		}
	}

	if tiles := a.clear(); len(tiles) != 3 {
		t.Errorf("clear returned %d tiles, want 3", len(tiles))
	}
	if a.len() != 0 || a.get(3) != nil {
		t.Error("arena not empty after clear")
	}
}
