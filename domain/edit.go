package domain

// Nested edits used by both the server gateway and the client mirror. Each
// edit either applies fully or leaves the board untouched.

func (b *Board) GroupIndex(id string) int {
	for i := range b.Groups {
		if b.Groups[i].ID == id {
			return i
		}
	}
	return -1
}

// FindTask locates a task anywhere on the board.
func (b *Board) FindTask(id string) (gi, ti int, ok bool) {
	for gi := range b.Groups {
		for ti := range b.Groups[gi].Tasks {
			if b.Groups[gi].Tasks[ti].ID == id {
				return gi, ti, true
			}
		}
	}
	return -1, -1, false
}

func (b *Board) LabelIndex(id string) int {
	for i := range b.Labels {
		if b.Labels[i].ID == id {
			return i
		}
	}
	return -1
}

// AddGroup appends g, assigning ids to the group and to any of its tasks
// that have none.
func (b *Board) AddGroup(g Group) (Group, error) {
	g = g.Clone()
	if g.ID == "" {
		g.ID = MakeID()
	}
	if b.GroupIndex(g.ID) >= 0 {
		return Group{}, Invalid("duplicate group id %s", g.ID)
	}
	if g.Tasks == nil {
		g.Tasks = []Task{}
	}
	seen := make(map[string]struct{}, len(g.Tasks))
	for i := range g.Tasks {
		t := &g.Tasks[i]
		if t.ID == "" {
			t.ID = MakeID()
		}
		if _, dup := seen[t.ID]; dup {
			return Group{}, Invalid("duplicate task id %s", t.ID)
		}
		if _, _, ok := b.FindTask(t.ID); ok {
			return Group{}, Invalid("duplicate task id %s", t.ID)
		}
		seen[t.ID] = struct{}{}
		t.normalize()
	}
	b.Groups = append(b.Groups, g)
	return g, nil
}

// UpdateGroup replaces the group with the same id in place.
func (b *Board) UpdateGroup(g Group) error {
	i := b.GroupIndex(g.ID)
	if i < 0 {
		return NotFound("group", g.ID)
	}
	if g.Tasks == nil {
		g.Tasks = []Task{}
	}
	b.Groups[i] = g
	return nil
}

func (b *Board) RemoveGroup(id string) error {
	i := b.GroupIndex(id)
	if i < 0 {
		return NotFound("group", id)
	}
	b.Groups = append(b.Groups[:i:i], b.Groups[i+1:]...)
	return nil
}

// AddTask appends t to the group, assigning an id when it has none.
func (b *Board) AddTask(groupID string, t Task) (Task, error) {
	gi := b.GroupIndex(groupID)
	if gi < 0 {
		return Task{}, NotFound("group", groupID)
	}
	if t.ID == "" {
		t.ID = MakeID()
	}
	if _, _, ok := b.FindTask(t.ID); ok {
		return Task{}, Invalid("duplicate task id %s", t.ID)
	}
	t.normalize()
	b.Groups[gi].Tasks = append(b.Groups[gi].Tasks, t)
	return t, nil
}

// UpdateTask replaces the task inside groupID. The task must already live
// in that group.
func (b *Board) UpdateTask(groupID string, t Task) error {
	gi := b.GroupIndex(groupID)
	if gi < 0 {
		return NotFound("group", groupID)
	}
	tasks := b.Groups[gi].Tasks
	for i := range tasks {
		if tasks[i].ID == t.ID {
			t.normalize()
			tasks[i] = t
			return nil
		}
	}
	return NotFound("task", t.ID)
}

func (b *Board) RemoveTask(groupID, taskID string) error {
	gi := b.GroupIndex(groupID)
	if gi < 0 {
		return NotFound("group", groupID)
	}
	tasks := b.Groups[gi].Tasks
	for i := range tasks {
		if tasks[i].ID == taskID {
			b.Groups[gi].Tasks = append(tasks[:i:i], tasks[i+1:]...)
			return nil
		}
	}
	return NotFound("task", taskID)
}

// MoveTask takes the task out of its current group and inserts it into
// toGroupID at position. Position is counted after removal, so moving
// within the same group uses the shortened sequence.
func (b *Board) MoveTask(taskID, toGroupID string, position int) error {
	gi, ti, ok := b.FindTask(taskID)
	if !ok {
		return NotFound("task", taskID)
	}
	dst := b.GroupIndex(toGroupID)
	if dst < 0 {
		return NotFound("group", toGroupID)
	}
	limit := len(b.Groups[dst].Tasks)
	if dst == gi {
		limit--
	}
	if position < 0 || position > limit {
		return Invalid("position %d out of range [0,%d]", position, limit)
	}

	src := b.Groups[gi].Tasks
	task := src[ti]
	b.Groups[gi].Tasks = append(src[:ti:ti], src[ti+1:]...)

	dstTasks := b.Groups[dst].Tasks
	out := make([]Task, 0, len(dstTasks)+1)
	out = append(out, dstTasks[:position]...)
	out = append(out, task)
	out = append(out, dstTasks[position:]...)
	b.Groups[dst].Tasks = out
	return nil
}

func (b *Board) AddLabel(l Label) (Label, error) {
	if l.ID == "" {
		l.ID = MakeID()
	}
	if b.LabelIndex(l.ID) >= 0 {
		return Label{}, Invalid("duplicate label id %s", l.ID)
	}
	b.Labels = append(b.Labels, l)
	return l, nil
}

func (b *Board) UpdateLabel(l Label) error {
	i := b.LabelIndex(l.ID)
	if i < 0 {
		return NotFound("label", l.ID)
	}
	b.Labels[i] = l
	return nil
}

// RemoveLabel drops the label and clears it from every task.
func (b *Board) RemoveLabel(id string) error {
	i := b.LabelIndex(id)
	if i < 0 {
		return NotFound("label", id)
	}
	b.Labels = append(b.Labels[:i:i], b.Labels[i+1:]...)
	for gi := range b.Groups {
		tasks := b.Groups[gi].Tasks
		for ti := range tasks {
			ids := tasks[ti].LabelIDs
			kept := make([]string, 0, len(ids))
			for _, lid := range ids {
				if lid != id {
					kept = append(kept, lid)
				}
			}
			tasks[ti].LabelIDs = kept
		}
	}
	return nil
}

// AddActivity appends to the board's activity log.
func (b *Board) AddActivity(a Activity) {
	if a.ID == "" {
		a.ID = MakeID()
	}
	b.Activities = append(b.Activities, a)
}
