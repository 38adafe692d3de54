package domain

import "fmt"

// OptionKind selects which pick list a task editor shows.
type OptionKind int

const (
	OptionMembers OptionKind = iota + 1
	OptionLabels
)

func (k OptionKind) String() string {
	switch k {
	case OptionMembers:
		return "members"
	case OptionLabels:
		return "labels"
	}
	return fmt.Sprintf("OptionKind(%d)", int(k))
}

// ParseOptionKind maps the wire name of a kind back to its value.
func ParseOptionKind(s string) (OptionKind, error) {
	switch s {
	case "members":
		return OptionMembers, nil
	case "labels":
		return OptionLabels, nil
	}
	return 0, Invalid("unknown option kind %q", s)
}

// Option is one entry of a pick list. The set of implementations is closed.
type Option interface {
	OptionID() string
	Kind() OptionKind
	option()
}

type MemberOption struct{ Member Member }

func (o MemberOption) OptionID() string { return o.Member.ID }
func (MemberOption) Kind() OptionKind   { return OptionMembers }
func (MemberOption) option()            {}

type LabelOption struct{ Label Label }

func (o LabelOption) OptionID() string { return o.Label.ID }
func (LabelOption) Kind() OptionKind   { return OptionLabels }
func (LabelOption) option()            {}

// Options lists everything a task on this board may pick from.
func (b *Board) Options(kind OptionKind) []Option {
	switch kind {
	case OptionMembers:
		out := make([]Option, 0, len(b.Members))
		for _, m := range b.Members {
			out = append(out, MemberOption{Member: m})
		}
		return out
	case OptionLabels:
		out := make([]Option, 0, len(b.Labels))
		for _, l := range b.Labels {
			out = append(out, LabelOption{Label: l})
		}
		return out
	}
	panic(fmt.Sprintf("domain: unhandled option kind %d", int(kind)))
}

// TaskOptions resolves the ids picked on t. Ids without a matching board
// entry are skipped.
func (b *Board) TaskOptions(t Task, kind OptionKind) []Option {
	var picked []string
	switch kind {
	case OptionMembers:
		picked = t.MemberIDs
	case OptionLabels:
		picked = t.LabelIDs
	default:
		panic(fmt.Sprintf("domain: unhandled option kind %d", int(kind)))
	}
	all := b.Options(kind)
	byID := make(map[string]Option, len(all))
	for _, o := range all {
		byID[o.OptionID()] = o
	}
	out := make([]Option, 0, len(picked))
	for _, id := range picked {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// ToggleOption adds or removes the option's id on the task.
func (t *Task) ToggleOption(o Option) {
	var ids *[]string
	switch o.Kind() {
	case OptionMembers:
		ids = &t.MemberIDs
	case OptionLabels:
		ids = &t.LabelIDs
	default:
		panic(fmt.Sprintf("domain: unhandled option kind %d", int(o.Kind())))
	}
	id := o.OptionID()
	for i, existing := range *ids {
		if existing == id {
			*ids = append((*ids)[:i:i], (*ids)[i+1:]...)
			return
		}
	}
	*ids = append(*ids, id)
}
