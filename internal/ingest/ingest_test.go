package ingest

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"news_bot/internal/dispatcher"
	"news_bot/internal/fetcher"
	"news_bot/internal/model"
	"news_bot/internal/storage"
	"news_bot/internal/transform"
)

type mockSource struct {
	mu       sync.Mutex
	pages    map[int][]fetcher.Candidate
	details  map[string]fetcher.Detail
	failPage map[int]bool
	listed   []int
	block    chan struct{}
}

func (m *mockSource) ListPage(_ context.Context, page int) (iter.Seq[fetcher.Candidate], error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed = append(m.listed, page)
	if m.failPage[page] {
		return nil, errors.New("unexpected status 502")
	}
	return slices.Values(m.pages[page]), nil
}

func (m *mockSource) Detail(_ context.Context, link string) (fetcher.Detail, error) {
	d, ok := m.details[link]
	if !ok {
		return fetcher.Detail{}, errors.New("unexpected status 404")
	}
	return d, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []dispatcher.Notification
}

func (m *mockNotifier) Dispatch(_ context.Context, n dispatcher.Notification) (dispatcher.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return dispatcher.Result{}, nil
}

type mockBackup struct{ n int }

func (m *mockBackup) Trigger() { m.n++ }

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func candidate(id int64, title string) fetcher.Candidate {
	return fetcher.Candidate{
		ExternalID:    id,
		Title:         title,
		Link:          "https://example.org/news/view/" + title,
		RawDate:       "05.03.24",
		PublishedDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
}

func newController(store storage.Storage, src Source, n Notifier, opts ...Option) *Controller {
	log := slog.New(slog.DiscardHandler)
	return New(store, src, transform.New(log), n, log, opts...)
}

func TestPollDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c1 := candidate(501, "a")
	src := &mockSource{
		pages:   map[int][]fetcher.Candidate{0: {c1}},
		details: map[string]fetcher.Detail{c1.Link: {HTML: "Текст"}},
	}
	n := &mockNotifier{}
	b := &mockBackup{}
	c := newController(store, src, n, WithBackup(b))

	first, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	second, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if diff := cmp.Diff(Stats{Pages: 1, Candidates: 1, Stored: 1}, first); diff != "" {
		t.Errorf("first stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Pages: 1, Candidates: 1}, second); diff != "" {
		t.Errorf("second stats mismatch (-want +got):\n%s", diff)
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
	if len(n.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(n.sent))
	}
	if b.n != 1 {
		t.Errorf("backups = %d, want 1", b.n)
	}
}

func TestPollDuplicateInsertIsSilent(t *testing.T) {
	store := newTestStore(t)
	c1 := candidate(501, "a")
	src := &mockSource{
		pages:   map[int][]fetcher.Candidate{0: {c1, c1}},
		details: map[string]fetcher.Detail{c1.Link: {HTML: "Текст"}},
	}
	n := &mockNotifier{}

	stats, err := newController(store, src, n).Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if diff := cmp.Diff(Stats{Pages: 1, Candidates: 2, Stored: 1, Duplicates: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if len(n.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(n.sent))
	}
}

func TestPollNotification(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c1 := candidate(501, "Отключение электроснабжения")
	c2 := candidate(502, "Праздник")
	src := &mockSource{
		pages: map[int][]fetcher.Candidate{0: {c1, c2}},
		details: map[string]fetcher.Detail{
			c1.Link: {HTML: "Без света", Images: []string{"https://example.org/1.jpg"}},
		},
	}
	n := &mockNotifier{}

	if _, err := newController(store, src, n).Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	first, err := store.GetItemByExternalID(ctx, 501)
	if err != nil {
		t.Fatalf("get 501: %v", err)
	}
	second, err := store.GetItemByExternalID(ctx, 502)
	if err != nil {
		t.Fatalf("get 502: %v", err)
	}

	if diff := cmp.Diff("Без света\n\n📷 Изображения:\nhttps://example.org/1.jpg", first.Body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("", second.Body); diff != "" {
		t.Errorf("failed detail body mismatch (-want +got):\n%s", diff)
	}

	want := []dispatcher.Notification{
		{
			Text: "🔔 Новая новость!\n\nОтключение электроснабжения\n\nБез света" +
				"\n\n📷 Изображения:\nhttps://example.org/1.jpg" +
				"\n\n📎 Новость на оф.сайте: " + c1.Link,
			Images:   []string{"https://example.org/1.jpg"},
			Category: model.CategoryPower,
			ItemID:   first.ID,
		},
		{
			Text:     "🔔 Новая новость!\n\nПраздник\n\n\n\n📎 Новость на оф.сайте: " + c2.Link,
			Category: model.CategoryOther,
			ItemID:   second.ID,
		},
	}
	if diff := cmp.Diff(want, n.sent); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestPollListError(t *testing.T) {
	src := &mockSource{failPage: map[int]bool{0: true}}
	if _, err := newController(newTestStore(t), src, &mockNotifier{}).Poll(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c1, c2, c3 := candidate(10, "a"), candidate(20, "b"), candidate(30, "c")
	src := &mockSource{
		pages: map[int][]fetcher.Candidate{1: {c1}, 2: {c2}, 3: {c3}},
		details: map[string]fetcher.Detail{
			c1.Link: {HTML: "a"}, c2.Link: {HTML: "b"}, c3.Link: {HTML: "c"},
		},
		failPage: map[int]bool{2: true},
	}
	n := &mockNotifier{}
	b := &mockBackup{}
	c := newController(store, src, n, WithBackup(b), WithPageDelay(0))

	stats, err := c.Backfill(ctx, 1, 3)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if diff := cmp.Diff(Stats{Pages: 2, Candidates: 2, Stored: 2}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, src.listed); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	if len(n.sent) != 0 || b.n != 0 {
		t.Errorf("backfill notified %d times and backed up %d times", len(n.sent), b.n)
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []int64
	for _, it := range items {
		ids = append(ids, it.ExternalID)
	}
	if diff := cmp.Diff([]int64{10, 30}, ids); diff != "" {
		t.Errorf("stored ids mismatch (-want +got):\n%s", diff)
	}
}

func TestBackfillInvalidRange(t *testing.T) {
	c := newController(newTestStore(t), &mockSource{}, &mockNotifier{})
	for _, r := range [][2]int{{0, 5}, {5, 4}, {-1, -1}} {
		if _, err := c.Backfill(context.Background(), r[0], r[1]); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("range %v: error = %v, want ErrInvalidRange", r, err)
		}
	}
}

func TestBackfillSingleRun(t *testing.T) {
	src := &mockSource{block: make(chan struct{})}
	c := newController(newTestStore(t), src, &mockNotifier{}, WithPageDelay(0))

	done := make(chan error, 1)
	go func() {
		_, err := c.Backfill(context.Background(), 1, 1)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !c.Backfilling() {
		if time.Now().After(deadline) {
			t.Fatal("backfill did not start")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := c.Backfill(context.Background(), 1, 1); !errors.Is(err, ErrBackfillRunning) {
		t.Errorf("second backfill: error = %v, want ErrBackfillRunning", err)
	}

	close(src.block)
	if err := <-done; err != nil {
		t.Fatalf("first backfill: %v", err)
	}
	if c.Backfilling() {
		t.Error("Backfilling() = true after completion")
	}
}

func TestLiveMessage(t *testing.T) {
	tests := []struct {
		name string
		r    transform.Result
		want string
	}{
		{
			name: "plain",
			r:    transform.Result{Text: "Текст"},
			want: "🔔 Новая новость!\n\nЗаголовок\n\nТекст\n\n📎 Новость на оф.сайте: https://x/1",
		},
		{
			name: "shortened with images",
			r:    transform.Result{Text: "Кратко", WasShortened: true, Images: []string{"https://x/a.jpg"}},
			want: "🔔 Новая новость!\n\nЗаголовок\n\nКратко\n\n💡 Текст сокращён нейросетью" +
				"\n\n📷 Изображения:\nhttps://x/a.jpg\n\n📎 Новость на оф.сайте: https://x/1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, LiveMessage("Заголовок", "https://x/1", tt.r)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type recordingChannel struct {
	mu   sync.Mutex
	sent map[int64]string
}

func (r *recordingChannel) record(chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[int64]string)
	}
	r.sent[chatID] = text
	return nil
}

func (r *recordingChannel) SendText(_ context.Context, chatID int64, text string, _ *model.ReactionSummary) error {
	return r.record(chatID, text)
}

func (r *recordingChannel) SendPhoto(_ context.Context, chatID int64, _, caption string, _ *model.ReactionSummary) error {
	return r.record(chatID, caption)
}

func (r *recordingChannel) SendPhotoGroup(_ context.Context, chatID int64, _ []string, caption string) error {
	return r.record(chatID, caption)
}

func (r *recordingChannel) SendControls(context.Context, int64, *model.ReactionSummary) error {
	return nil
}

func TestPollEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := slog.New(slog.DiscardHandler)

	for _, sub := range []model.Subscriber{
		{RecipientID: 1, Categories: []model.Category{model.CategoryWater}, Address: "Советская, 15"},
		{RecipientID: 2, Categories: []model.Category{model.CategoryPower}},
	} {
		if err := store.SaveSubscriber(ctx, &sub); err != nil {
			t.Fatalf("save subscriber: %v", err)
		}
	}

	title := "Отключение воды по ул. Советская, 12-20"
	cand := candidate(501, "501")
	cand.Title = title
	src := &mockSource{
		pages:   map[int][]fetcher.Candidate{0: {cand}},
		details: map[string]fetcher.Detail{cand.Link: {HTML: "<p>С 9:00 до 17:00</p>"}},
	}
	ch := &recordingChannel{}
	d := dispatcher.New(store, ch, log)
	c := New(store, src, transform.New(log), d, log)

	if _, err := c.Poll(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if _, err := c.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	want := map[int64]string{
		1: dispatcher.RelevanceBanner + "🔔 Новая новость!\n\n" + title + "\n\nС 9:00 до 17:00\n\n📎 Новость на оф.сайте: " + cand.Link,
	}
	if diff := cmp.Diff(want, ch.sent); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
}
