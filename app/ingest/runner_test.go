package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zp-hackthon/tickethunter/app/bus"
	"github.com/zp-hackthon/tickethunter/app/classifier"
	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/feed"
)

// MockPostRepository implements a simple in-memory mock for testing. The
// runner serializes all access, so plain maps are enough.
type MockPostRepository struct {
	posts map[string]database.Post
	err   error
}

func NewMockPostRepository() *MockPostRepository {
	return &MockPostRepository{posts: make(map[string]database.Post)}
}

func (m *MockPostRepository) InsertPostIfAbsent(post database.Post) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.posts[post.ID]; ok {
		return false, nil
	}
	m.posts[post.ID] = post
	return true, nil
}

func (m *MockPostRepository) GetPost(id string) (*database.Post, error) {
	if m.err != nil {
		return nil, m.err
	}
	if post, ok := m.posts[id]; ok {
		return &post, nil
	}
	return nil, nil
}

func (m *MockPostRepository) GetPostCount() (int, error) {
	return len(m.posts), nil
}

// MockTicketRepository implements a simple in-memory mock for testing
type MockTicketRepository struct {
	tickets map[string]database.Ticket
	nextID  int64
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{tickets: make(map[string]database.Ticket)}
}

func (m *MockTicketRepository) InsertTicketIfAbsent(ticket database.Ticket) (int64, bool, error) {
	if _, ok := m.tickets[ticket.PostID]; ok {
		return 0, false, nil
	}
	m.nextID++
	ticket.ID = m.nextID
	m.tickets[ticket.PostID] = ticket
	return ticket.ID, true, nil
}

func (m *MockTicketRepository) GetTicketByPostID(postID string) (*database.Ticket, error) {
	if ticket, ok := m.tickets[postID]; ok {
		return &ticket, nil
	}
	return nil, nil
}

func (m *MockTicketRepository) ListRecentTickets(limit int) ([]database.Ticket, error) {
	return nil, nil
}

func (m *MockTicketRepository) ListTicketsSince(since time.Time, limit int) ([]database.Ticket, error) {
	return nil, nil
}

func (m *MockTicketRepository) GetTicketCount() (int, error) {
	return len(m.tickets), nil
}

// MockTaskRepository implements a simple in-memory mock for testing
type MockTaskRepository struct {
	mu    sync.Mutex
	tasks map[int64]database.Task
}

func NewMockTaskRepository() *MockTaskRepository {
	return &MockTaskRepository{tasks: make(map[int64]database.Task)}
}

func (m *MockTaskRepository) CreateTask(task database.Task) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.tasks) + 1)
	task.ID = id
	m.tasks[id] = task
	return id, nil
}

func (m *MockTaskRepository) GetTask(id int64) (*database.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		return &task, nil
	}
	return nil, nil
}

func (m *MockTaskRepository) UpdateTask(task *database.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *MockTaskRepository) ListRecentTasks(limit int) ([]database.Task, error) {
	return nil, nil
}

func (m *MockTaskRepository) ListScheduledRunning() ([]database.Task, error) {
	return nil, nil
}

func (m *MockTaskRepository) DeleteTaskCascade(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

// MockSearcher implements a simple mock for testing
type MockSearcher struct {
	candidates []feed.Candidate
	err        error
}

func (m *MockSearcher) SearchPosts(ctx context.Context, keyword, sortBy string) ([]feed.Candidate, error) {
	return m.candidates, m.err
}

// MockClassifier marks descriptions containing "转" as resale offers.
type MockClassifier struct {
	delay time.Duration
}

func (m *MockClassifier) AnalyzeForResale(ctx context.Context, content string) classifier.Verdict {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if strings.Contains(content, "转") {
		return classifier.Verdict{
			IsResale:  true,
			EventName: "测试演出",
			City:      "上海",
			Price:     "500",
		}
	}
	return classifier.Verdict{}
}

// MockPublisher records published events for testing
type MockPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (m *MockPublisher) Publish(eventType string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, bus.Event{Type: eventType, Data: data})
}

func (m *MockPublisher) Events() []bus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bus.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockPublisher) CountByType(eventType string) int {
	count := 0
	for _, event := range m.Events() {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func noteCandidate(id, title string) feed.Candidate {
	return feed.Candidate{
		ModelType: feed.ModelTypeNote,
		ID:        id,
		NoteCard:  &feed.NoteCard{DisplayTitle: title},
	}
}

func newTestRunner(searcher *MockSearcher) (*Runner, *MockPostRepository, *MockTicketRepository, *MockTaskRepository, *MockPublisher) {
	posts := NewMockPostRepository()
	tickets := NewMockTicketRepository()
	tasks := NewMockTaskRepository()
	publisher := &MockPublisher{}
	runner := NewRunner(posts, tickets, tasks, searcher, &MockClassifier{}, publisher, 5)
	return runner, posts, tickets, tasks, publisher
}

func TestRunEmptyResult(t *testing.T) {
	runner, _, _, tasks, publisher := newTestRunner(&MockSearcher{})

	id, _ := tasks.CreateTask(database.Task{Status: database.TaskStatusRunning, Scheduled: true})

	summary, err := runner.Run(context.Background(), id, "周杰伦")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if summary.TotalPosts != 0 || summary.TicketsFound != 0 {
		t.Errorf("Expected empty summary, got %+v", summary)
	}

	task, _ := tasks.GetTask(id)
	if task.Status != database.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", task.Status)
	}
	if task.Message != "未找到相关数据" {
		t.Errorf("Unexpected message: %s", task.Message)
	}
	if got := publisher.CountByType(bus.EventTaskUpdate); got != 1 {
		t.Errorf("Expected 1 task_update event, got %d", got)
	}
}

func TestRunSearchFailure(t *testing.T) {
	searcher := &MockSearcher{err: errors.New("connection refused")}
	runner, posts, _, tasks, publisher := newTestRunner(searcher)

	id, _ := tasks.CreateTask(database.Task{Status: database.TaskStatusRunning})

	_, err := runner.Run(context.Background(), id, "周杰伦")
	if err == nil {
		t.Fatal("Expected an error")
	}

	task, _ := tasks.GetTask(id)
	if task.Status != database.TaskStatusFailed {
		t.Errorf("Expected status failed, got %s", task.Status)
	}
	if !strings.HasPrefix(task.Message, "执行失败") {
		t.Errorf("Unexpected failure message: %s", task.Message)
	}
	if count, _ := posts.GetPostCount(); count != 0 {
		t.Errorf("Expected no posts persisted, got %d", count)
	}
	if got := publisher.CountByType(bus.EventTaskUpdate); got != 1 {
		t.Errorf("Expected 1 task_update event, got %d", got)
	}
}

func TestRunUnknownTask(t *testing.T) {
	runner, _, _, _, _ := newTestRunner(&MockSearcher{})

	_, err := runner.Run(context.Background(), 42, "周杰伦")
	if err == nil {
		t.Fatal("Expected an error for unknown task")
	}
}

func TestRunPersistsTickets(t *testing.T) {
	searcher := &MockSearcher{candidates: []feed.Candidate{
		noteCandidate("a1", "演唱会门票转让，内场两张"),
		noteCandidate("a2", "今天天气不错"),
		noteCandidate("a3", "风景照分享"),
	}}
	runner, posts, tickets, tasks, publisher := newTestRunner(searcher)

	id, _ := tasks.CreateTask(database.Task{Status: database.TaskStatusRunning, Scheduled: false})

	summary, err := runner.Run(context.Background(), id, "演唱会")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if summary.TotalPosts != 3 {
		t.Errorf("Expected 3 posts processed, got %d", summary.TotalPosts)
	}
	if summary.TicketsFound != 1 {
		t.Errorf("Expected 1 ticket found, got %d", summary.TicketsFound)
	}

	if count, _ := posts.GetPostCount(); count != 3 {
		t.Errorf("Expected 3 posts persisted, got %d", count)
	}
	if count, _ := tickets.GetTicketCount(); count != 1 {
		t.Errorf("Expected 1 ticket persisted, got %d", count)
	}

	ticket, _ := tickets.GetTicketByPostID("a1")
	if ticket == nil {
		t.Fatal("Expected a ticket for post a1")
	}
	if ticket.EventName != "测试演出" {
		t.Errorf("Expected event name 测试演出, got %s", ticket.EventName)
	}

	if got := publisher.CountByType(bus.EventTicketUpdate); got != 1 {
		t.Errorf("Expected 1 ticket_update event, got %d", got)
	}
	if got := publisher.CountByType(bus.EventTaskUpdate); got < 1 {
		t.Errorf("Expected at least 1 task_update event, got %d", got)
	}

	// A one-shot task is done after a successful run.
	task, _ := tasks.GetTask(id)
	if task.Status != database.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", task.Status)
	}
}

func TestRunScheduledTaskStaysRunning(t *testing.T) {
	searcher := &MockSearcher{candidates: []feed.Candidate{
		noteCandidate("b1", "普通笔记"),
	}}
	runner, _, _, tasks, _ := newTestRunner(searcher)

	id, _ := tasks.CreateTask(database.Task{Status: database.TaskStatusRunning, Scheduled: true})

	if _, err := runner.Run(context.Background(), id, "演唱会"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	task, _ := tasks.GetTask(id)
	if task.Status != database.TaskStatusRunning {
		t.Errorf("Expected scheduled task to stay running, got %s", task.Status)
	}
	if !strings.HasPrefix(task.Message, "搜索完成") {
		t.Errorf("Unexpected message: %s", task.Message)
	}
}

func TestRunDeduplicatesRepeatedPosts(t *testing.T) {
	// The same post id appears many times in one page; exactly one copy
	// may be persisted regardless of worker interleaving.
	candidates := make([]feed.Candidate, 10)
	for i := range candidates {
		candidates[i] = noteCandidate("dup1", "门票转让")
	}
	searcher := &MockSearcher{candidates: candidates}

	posts := NewMockPostRepository()
	tickets := NewMockTicketRepository()
	tasks := NewMockTaskRepository()
	publisher := &MockPublisher{}
	runner := NewRunner(posts, tickets, tasks, searcher, &MockClassifier{delay: 5 * time.Millisecond}, publisher, 5)

	id, _ := tasks.CreateTask(database.Task{Status: database.TaskStatusRunning, Scheduled: true})

	summary, err := runner.Run(context.Background(), id, "演唱会")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if summary.TotalPosts != 10 {
		t.Errorf("Expected 10 posts processed, got %d", summary.TotalPosts)
	}

	if count, _ := posts.GetPostCount(); count != 1 {
		t.Errorf("Expected exactly 1 post persisted, got %d", count)
	}
	if count, _ := tickets.GetTicketCount(); count != 1 {
		t.Errorf("Expected exactly 1 ticket persisted, got %d", count)
	}
	if got := publisher.CountByType(bus.EventTicketUpdate); got != 1 {
		t.Errorf("Expected exactly 1 ticket_update event, got %d", got)
	}
}

func TestProcessPostSkipsInvalidCandidates(t *testing.T) {
	runner, posts, _, tasks, _ := newTestRunner(&MockSearcher{})
	id, _ := tasks.CreateTask(database.Task{Status: database.TaskStatusRunning})

	cases := []struct {
		name      string
		candidate feed.Candidate
		reason    string
	}{
		{"wrong model type", feed.Candidate{ModelType: "video", ID: "v1"}, ReasonNotNote},
		{"missing id", feed.Candidate{ModelType: feed.ModelTypeNote, NoteCard: &feed.NoteCard{}}, ReasonIncomplete},
		{"missing note card", feed.Candidate{ModelType: feed.ModelTypeNote, ID: "n1"}, ReasonIncomplete},
	}

	for _, tc := range cases {
		outcome := runner.processPost(context.Background(), tc.candidate, id)
		if outcome.Success {
			t.Errorf("%s: expected failure outcome", tc.name)
		}
		if outcome.Reason != tc.reason {
			t.Errorf("%s: expected reason %q, got %q", tc.name, tc.reason, outcome.Reason)
		}
	}

	if count, _ := posts.GetPostCount(); count != 0 {
		t.Errorf("Expected no posts persisted, got %d", count)
	}
}

func TestParseEventDate(t *testing.T) {
	if got := parseEventDate(""); got != nil {
		t.Errorf("Expected nil for empty date, got %v", got)
	}
	if got := parseEventDate("not a date"); got != nil {
		t.Errorf("Expected nil for malformed date, got %v", got)
	}

	got := parseEventDate("2025-10-01")
	if got == nil {
		t.Fatal("Expected a parsed date")
	}
	if got.Year() != 2025 || got.Month() != time.October || got.Day() != 1 {
		t.Errorf("Unexpected parsed date: %v", got)
	}
}
