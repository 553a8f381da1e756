package models

import (
	"encoding/json"
	"testing"
)

func TestBranchStatusConstants(t *testing.T) {
	if BranchStatusActive != "active" || BranchStatusArchived != "archived" {
		t.Errorf("unexpected status values: %q %q", BranchStatusActive, BranchStatusArchived)
	}
}

func TestNewBranch(t *testing.T) {
	b := NewBranch("session-1", "alt-approach")
	if b.SessionID != "session-1" {
		t.Errorf("SessionID = %q", b.SessionID)
	}
	if b.Name != "alt-approach" {
		t.Errorf("Name = %q", b.Name)
	}
	if b.Status != BranchStatusActive {
		t.Errorf("Status = %q", b.Status)
	}
	if b.IsPrimary {
		t.Error("NewBranch should not be primary")
	}
}

func TestNewPrimaryBranch(t *testing.T) {
	b := NewPrimaryBranch("session-1")
	if !b.IsPrimary {
		t.Error("expected primary branch")
	}
	if b.Name != "main" {
		t.Errorf("Name = %q, want main", b.Name)
	}
	if !b.IsRoot() {
		t.Error("primary branch should be root")
	}
}

func TestBranchIsRoot(t *testing.T) {
	parent := "parent-id"
	child := NewBranch("session-1", "child")
	child.ParentBranchID = &parent
	if child.IsRoot() {
		t.Error("branch with a parent is not root")
	}
}

func TestBranchJSONRoundTrip(t *testing.T) {
	parent := "parent-id"
	b := &Branch{
		ID:             "branch-1",
		SessionID:      "session-1",
		ParentBranchID: &parent,
		Name:           "experiment",
		BranchPoint:    12,
		Status:         BranchStatusActive,
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Branch
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ParentBranchID == nil || *decoded.ParentBranchID != parent {
		t.Errorf("parent lost: %+v", decoded)
	}
	if decoded.BranchPoint != 12 {
		t.Errorf("BranchPoint = %d, want 12", decoded.BranchPoint)
	}
}
