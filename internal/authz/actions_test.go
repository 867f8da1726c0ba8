package authz

import "testing"

func TestImplies(t *testing.T) {
	cases := []struct {
		held, want Action
		expect     bool
	}{
		{ActionView, ActionView, true},
		{ActionUpdate, ActionView, true},
		{ActionView, ActionUpdate, false},
		{ActionManage, ActionView, true},
		{ActionManage, ActionCreate, true},
		{ActionManage, ActionUpdate, true},
		{ActionManage, ActionDelete, true},
		{ActionManage, ActionDeleteAny, true},
		{ActionDeleteAny, ActionDelete, true},
		{ActionDeleteAny, ActionView, true},
		{ActionDelete, ActionView, true},
		{ActionDelete, ActionDeleteAny, false},
		{ActionViewAny, ActionView, true},
		{ActionCreate, ActionView, false},
		{ActionView, ActionManage, false},
	}
	for _, tc := range cases {
		if got := Implies(tc.held, tc.want); got != tc.expect {
			t.Errorf("Implies(%s, %s) = %v, want %v", tc.held, tc.want, got, tc.expect)
		}
	}
}

func TestValidAction(t *testing.T) {
	for _, a := range []Action{ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete, ActionDeleteAny, ActionManage} {
		if !ValidAction(a) {
			t.Errorf("expected %s to be valid", a)
		}
	}
	if ValidAction("drop_tables") {
		t.Errorf("unexpected valid action")
	}
}

func TestAnyImplies(t *testing.T) {
	held := []Action{ActionCreate, ActionUpdate}
	if !AnyImplies(held, ActionView) {
		t.Fatalf("update should imply view")
	}
	if AnyImplies(held, ActionDelete) {
		t.Fatalf("delete should not be implied")
	}
}
