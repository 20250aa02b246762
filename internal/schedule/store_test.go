package schedule

import "testing"

func block(id string, startMS, durMS int64) Block {
	return Block{BlockID: id, StartUTCMS: startMS, EndUTCMS: startMS + durMS}
}

func TestStore_insertAndGetBlockAt(t *testing.T) {
	s := NewStore()
	if err := s.Insert(
		block("a", 0, 1000),
		block("b", 1000, 1000),
		block("c", 2000, 1000),
	); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.GetBlockAt(1500)
	if err != nil {
		t.Fatalf("GetBlockAt: %v", err)
	}
	if got.BlockID != "b" {
		t.Errorf("GetBlockAt(1500) = %s, want b", got.BlockID)
	}

	// Exact boundary belongs to the block that starts there.
	got, err = s.GetBlockAt(2000)
	if err != nil || got.BlockID != "c" {
		t.Errorf("GetBlockAt(2000) = %+v, %v", got, err)
	}

	if _, err := s.GetBlockAt(3000); err != ErrNoCoveringBlock {
		t.Errorf("GetBlockAt(3000) err = %v, want ErrNoCoveringBlock", err)
	}
	if _, err := s.GetBlockAt(-1); err != ErrNoCoveringBlock {
		t.Errorf("GetBlockAt(-1) err = %v, want ErrNoCoveringBlock", err)
	}
}

func TestStore_rejectsSeamGap(t *testing.T) {
	s := NewStore()
	if err := s.Insert(block("a", 0, 1000)); err != nil {
		t.Fatalf("Insert first: %v", err)
	}
	// gap: next block should start at 1000, starts at 1500 instead
	err := s.Insert(block("b", 1500, 1000))
	if err == nil {
		t.Fatal("expected a seam violation, got nil")
	}
	if _, ok := err.(*SeamViolation); !ok {
		t.Errorf("err = %T(%v), want *SeamViolation", err, err)
	}
	// rejected insert must leave the store untouched
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (rejected insert must not partially apply)", s.Len())
	}
}

func TestStore_insertOutOfOrderSortsFirst(t *testing.T) {
	s := NewStore()
	if err := s.Insert(block("b", 1000, 1000)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(block("a", 0, 1000)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	all := s.GetAllEntries()
	if len(all) != 2 || all[0].BlockID != "a" || all[1].BlockID != "b" {
		t.Errorf("all = %+v, want [a, b]", all)
	}
}

func TestStore_getAllEntriesIsDefensiveCopy(t *testing.T) {
	s := NewStore()
	_ = s.Insert(block("a", 0, 1000))
	all := s.GetAllEntries()
	all[0].BlockID = "mutated"
	fresh := s.GetAllEntries()
	if fresh[0].BlockID != "a" {
		t.Errorf("store was mutated through the returned slice")
	}
}

func TestStore_pruneOlderThan(t *testing.T) {
	s := NewStore()
	_ = s.Insert(block("a", 0, 1000), block("b", 1000, 1000), block("c", 2000, 1000))
	pruned := s.PruneOlderThan(2000)
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_checkContiguityOnHealthySet(t *testing.T) {
	s := NewStore()
	_ = s.Insert(block("a", 0, 1000), block("b", 1000, 1000))
	if err := s.CheckContiguity(); err != nil {
		t.Errorf("CheckContiguity() = %v, want nil", err)
	}
}
