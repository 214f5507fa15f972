package agent

import (
	"context"
	"testing"

	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/session"
)

func TestThreadContextEmptyHistoryUsesInputOnly(t *testing.T) {
	src := ThreadContext{History: fakeHistory{}}
	turns := src.Assemble(context.Background(), Request{ChannelID: "C1", ThreadID: "1.0", Text: "T"})
	if len(turns) != 1 || turns[0].Text != "T" || turns[0].Role != session.RoleOther {
		t.Fatalf("expected input only, got %+v", turns)
	}
}

func TestThreadContextAppendsInputWhenReadLags(t *testing.T) {
	src := ThreadContext{History: fakeHistory{turns: []session.Turn{
		{Role: session.RoleOther, Text: "q"},
		{Role: session.RoleSelf, Text: "a"},
	}}}
	turns := src.Assemble(context.Background(), Request{ChannelID: "C1", ThreadID: "1.0", Text: "T"})
	if len(turns) != 3 || turns[2].Text != "T" {
		t.Fatalf("expected input appended, got %+v", turns)
	}
}

func TestThreadContextAppendsInputWhenHumanReadLags(t *testing.T) {
	src := ThreadContext{History: fakeHistory{turns: []session.Turn{
		{ID: "1.0", Role: session.RoleOther, Text: "root"},
		{ID: "2.0", Role: session.RoleOther, Text: "earlier human"},
	}}}
	turns := src.Assemble(context.Background(), Request{ChannelID: "C1", ThreadID: "1.0", MessageID: "3.0", Text: "T"})
	if len(turns) != 3 || turns[2].Text != "T" || turns[2].ID != "3.0" {
		t.Fatalf("expected input appended after the earlier message, got %+v", turns)
	}
}

func TestThreadContextKeepsCaughtUpRead(t *testing.T) {
	src := ThreadContext{History: fakeHistory{turns: []session.Turn{
		{ID: "1.0", Role: session.RoleOther, Text: "root"},
		{ID: "3.0", Role: session.RoleOther, Text: "T"},
	}}}
	turns := src.Assemble(context.Background(), Request{ChannelID: "C1", ThreadID: "1.0", MessageID: "3.0", Text: "T"})
	if len(turns) != 2 || turns[1].ID != "3.0" {
		t.Fatalf("expected the fetched thread unchanged, got %+v", turns)
	}
}

func TestThreadContextWithoutThreadSkipsFetch(t *testing.T) {
	src := ThreadContext{History: fakeHistory{turns: []session.Turn{{Role: session.RoleOther, Text: "stale"}}}}
	turns := src.Assemble(context.Background(), Request{ChannelID: "C1", Text: "T"})
	if len(turns) != 1 || turns[0].Text != "T" {
		t.Fatalf("expected input only, got %+v", turns)
	}
}

func TestStoreContextReadFailureDegrades(t *testing.T) {
	faults := &faultLog{}
	src := StoreContext{Store: failingStore{}, Limit: 10, Faults: faults}
	turns := src.Assemble(context.Background(), Request{ChannelID: "C1", ThreadID: "1.0", Text: "T"})
	if len(turns) != 1 || turns[0].Text != "T" {
		t.Fatalf("expected input only, got %+v", turns)
	}
	if kinds := faults.Kinds(); len(kinds) != 1 || kinds[0] != fault.KindStoreRead {
		t.Fatalf("expected store read fault, got %v", kinds)
	}
}
