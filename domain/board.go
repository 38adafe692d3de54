package domain

// Board is the unit of persistence and broadcast. Everything a viewer sees is
// nested inside it.
type Board struct {
	ID         string     `json:"_id"`
	Title      string     `json:"title"`
	IsStarred  bool       `json:"isStarred"`
	ArchivedAt *int64     `json:"archivedAt"`
	CreatedBy  *Member    `json:"createdBy"`
	Style      Style      `json:"style"`
	Labels     []Label    `json:"labels"`
	Members    []Member   `json:"members"`
	Groups     []Group    `json:"groups"`
	Activities []Activity `json:"activities"`
	// UpdatedAt is stamped on every write. It orders documents for
	// clients and is never checked on write.
	UpdatedAt int64 `json:"updatedAt"`
}

type Style struct {
	Background      string `json:"background"`
	BackgroundColor string `json:"backgroundColor"`
	Thumbnail       string `json:"thumbnail"`
}

type Group struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ArchivedAt *int64 `json:"archivedAt"`
	Tasks      []Task `json:"tasks"`
}

type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ArchivedAt  *int64       `json:"archivedAt"`
	LabelIDs    []string     `json:"labelIds"`
	MemberIDs   []string     `json:"memberIds"`
	ByMember    *Member      `json:"byMember"`
	DueDate     *int64       `json:"dueDate"`
	Checklists  []Checklist  `json:"checklists"`
	Comments    []Comment    `json:"comments"`
	Attachments []Attachment `json:"attachments"`
	IsDone      bool         `json:"isDone"`
}

type Label struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// Member is a reference to a user. Identity itself lives outside the board.
type Member struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Fullname string `json:"fullname"`
	ImgURL   string `json:"imgUrl"`
}

type Checklist struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Todos []Todo `json:"todos"`
}

type Todo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	IsDone bool   `json:"isDone"`
}

type Attachment struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	URL       string `json:"url"`
	Title     string `json:"title"`
}

type Comment struct {
	ID        string  `json:"id"`
	Txt       string  `json:"txt"`
	CreatedAt int64   `json:"createdAt"`
	ByMember  *Member `json:"byMember"`
}

// Activity is an append-only log line on the board.
type Activity struct {
	ID        string  `json:"id"`
	Txt       string  `json:"txt"`
	CreatedAt int64   `json:"createdAt"`
	ByMember  *Member `json:"byMember"`
	GroupID   string  `json:"groupId,omitempty"`
	TaskID    string  `json:"taskId,omitempty"`
}

// DefaultLabels is the palette a new board starts with.
func DefaultLabels() []Label {
	return []Label{
		{ID: "l101", Title: "UI", Color: "#7bc86c"},
		{ID: "l102", Title: "Low priority", Color: "#f5dd29"},
		{ID: "l103", Title: "Medium priority", Color: "#ffaf3f"},
		{ID: "l104", Title: "High priority", Color: "#ef7564"},
		{ID: "l105", Title: "Bug", Color: "#cd8de5"},
	}
}

// EmptyBoard returns a board without an id, ready to be added.
func EmptyBoard() Board {
	return Board{
		Labels:     DefaultLabels(),
		Members:    []Member{},
		Groups:     []Group{},
		Activities: []Activity{},
	}
}

func EmptyGroup(title string) Group {
	return Group{Title: title, Tasks: []Task{}}
}

func EmptyTask(title string) Task {
	return Task{
		Title:       title,
		LabelIDs:    []string{},
		MemberIDs:   []string{},
		Checklists:  []Checklist{},
		Comments:    []Comment{},
		Attachments: []Attachment{},
	}
}

func NewChecklist(title string) Checklist {
	return Checklist{ID: MakeID(), Title: title, Todos: []Todo{}}
}

func NewTodo(title string) Todo {
	return Todo{ID: MakeID(), Title: title}
}

func NewAttachment(url string, createdAt int64) Attachment {
	return Attachment{ID: MakeID(), CreatedAt: createdAt, URL: url, Title: "Attachment Image"}
}

func NewLabel(title, color string) Label {
	return Label{ID: MakeID(), Title: title, Color: color}
}

// Progress returns the percentage of done todos, rounded up.
func (c Checklist) Progress() int {
	if len(c.Todos) == 0 {
		return 0
	}
	done := 0
	for _, t := range c.Todos {
		if t.IsDone {
			done++
		}
	}
	return (done*100 + len(c.Todos) - 1) / len(c.Todos)
}

// TaskCount returns the number of tasks across all groups.
func (b *Board) TaskCount() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Tasks)
	}
	return n
}

// Normalize replaces nil sequences with empty ones so that stored and
// returned documents have the same shape.
func (b *Board) Normalize() {
	if b.Labels == nil {
		b.Labels = []Label{}
	}
	if b.Members == nil {
		b.Members = []Member{}
	}
	if b.Groups == nil {
		b.Groups = []Group{}
	}
	if b.Activities == nil {
		b.Activities = []Activity{}
	}
	for gi := range b.Groups {
		g := &b.Groups[gi]
		if g.Tasks == nil {
			g.Tasks = []Task{}
		}
		for ti := range g.Tasks {
			g.Tasks[ti].normalize()
		}
	}
}

func (t *Task) normalize() {
	if t.LabelIDs == nil {
		t.LabelIDs = []string{}
	}
	if t.MemberIDs == nil {
		t.MemberIDs = []string{}
	}
	if t.Checklists == nil {
		t.Checklists = []Checklist{}
	}
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}
	for i := range t.Checklists {
		if t.Checklists[i].Todos == nil {
			t.Checklists[i].Todos = []Todo{}
		}
	}
}
