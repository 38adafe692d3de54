package domain

// Clone returns a deep copy of the board. Nil and empty sequences are kept
// as they are.
func (b Board) Clone() Board {
	out := b
	out.ArchivedAt = cloneInt(b.ArchivedAt)
	out.CreatedBy = cloneMember(b.CreatedBy)
	out.Labels = cloneSlice(b.Labels)
	out.Members = cloneSlice(b.Members)
	out.Activities = cloneSlice(b.Activities)
	for i := range out.Activities {
		out.Activities[i].ByMember = cloneMember(out.Activities[i].ByMember)
	}
	out.Groups = cloneSlice(b.Groups)
	for i := range out.Groups {
		out.Groups[i] = out.Groups[i].Clone()
	}
	return out
}

func (g Group) Clone() Group {
	out := g
	out.ArchivedAt = cloneInt(g.ArchivedAt)
	out.Tasks = cloneSlice(g.Tasks)
	for i := range out.Tasks {
		out.Tasks[i] = out.Tasks[i].Clone()
	}
	return out
}

func (t Task) Clone() Task {
	out := t
	out.ArchivedAt = cloneInt(t.ArchivedAt)
	out.DueDate = cloneInt(t.DueDate)
	out.ByMember = cloneMember(t.ByMember)
	out.LabelIDs = cloneSlice(t.LabelIDs)
	out.MemberIDs = cloneSlice(t.MemberIDs)
	out.Attachments = cloneSlice(t.Attachments)
	out.Comments = cloneSlice(t.Comments)
	for i := range out.Comments {
		out.Comments[i].ByMember = cloneMember(out.Comments[i].ByMember)
	}
	out.Checklists = cloneSlice(t.Checklists)
	for i := range out.Checklists {
		out.Checklists[i].Todos = cloneSlice(out.Checklists[i].Todos)
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneMember(m *Member) *Member {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
