package authz

// Action is one entry of the fixed permission-action taxonomy.
type Action string

// The action taxonomy. Actions never inherit through role nesting; the only
// relation between them is the static implication table below, applied at
// check time.
const (
	ActionView      Action = "view"
	ActionViewAny   Action = "view_any"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionDeleteAny Action = "delete_any"
	ActionManage    Action = "manage"
)

// implications maps a held action to every action it functionally implies,
// itself excluded. Holding manage grants the whole resource.
var implications = map[Action][]Action{
	ActionViewAny:   {ActionView},
	ActionUpdate:    {ActionView},
	ActionDelete:    {ActionView},
	ActionDeleteAny: {ActionDelete, ActionViewAny, ActionView},
	ActionManage:    {ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete, ActionDeleteAny},
}

// ValidAction reports whether the action belongs to the taxonomy.
func ValidAction(a Action) bool {
	switch a {
	case ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete, ActionDeleteAny, ActionManage:
		return true
	}
	return false
}

// Implies reports whether holding held satisfies a check for want.
func Implies(held, want Action) bool {
	if held == want {
		return true
	}
	for _, a := range implications[held] {
		if a == want {
			return true
		}
	}
	return false
}

// AnyImplies reports whether any held action satisfies want.
func AnyImplies(held []Action, want Action) bool {
	for _, h := range held {
		if Implies(h, want) {
			return true
		}
	}
	return false
}
