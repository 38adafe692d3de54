package domain

// Validate checks the structural invariants of a board document. The board
// id itself may be empty; callers decide whether that is acceptable.
func (b *Board) Validate() error {
	labels := make(map[string]struct{}, len(b.Labels))
	for _, l := range b.Labels {
		if l.ID == "" {
			return Invalid("label with empty id")
		}
		if _, dup := labels[l.ID]; dup {
			return Invalid("duplicate label id %s", l.ID)
		}
		labels[l.ID] = struct{}{}
	}

	groups := make(map[string]struct{}, len(b.Groups))
	tasks := make(map[string]struct{})
	for _, g := range b.Groups {
		if g.ID == "" {
			return Invalid("group with empty id")
		}
		if _, dup := groups[g.ID]; dup {
			return Invalid("duplicate group id %s", g.ID)
		}
		groups[g.ID] = struct{}{}
		for _, t := range g.Tasks {
			if t.ID == "" {
				return Invalid("task with empty id in group %s", g.ID)
			}
			if _, dup := tasks[t.ID]; dup {
				return Invalid("duplicate task id %s", t.ID)
			}
			tasks[t.ID] = struct{}{}
			if err := t.validate(labels); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Task) validate(labels map[string]struct{}) error {
	for _, id := range t.LabelIDs {
		if _, ok := labels[id]; !ok {
			return Invalid("task %s references unknown label %s", t.ID, id)
		}
	}
	seen := map[string]struct{}{}
	leaf := func(kind, id string) error {
		if id == "" {
			return Invalid("%s with empty id in task %s", kind, t.ID)
		}
		key := kind + "/" + id
		if _, dup := seen[key]; dup {
			return Invalid("duplicate %s id %s in task %s", kind, id, t.ID)
		}
		seen[key] = struct{}{}
		return nil
	}
	for _, c := range t.Checklists {
		if err := leaf("checklist", c.ID); err != nil {
			return err
		}
		for _, td := range c.Todos {
			if err := leaf("todo", td.ID); err != nil {
				return err
			}
		}
	}
	for _, a := range t.Attachments {
		if err := leaf("attachment", a.ID); err != nil {
			return err
		}
	}
	for _, c := range t.Comments {
		if err := leaf("comment", c.ID); err != nil {
			return err
		}
	}
	return nil
}
