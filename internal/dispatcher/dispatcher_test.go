package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"news_bot/internal/model"
)

type call struct {
	Kind     string
	ChatID   int64
	Text     string
	URLs     []string
	Controls bool
}

type mockChannel struct {
	mu    sync.Mutex
	calls []call
	fail  map[int64]bool
}

func (m *mockChannel) record(c call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[c.ChatID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	m.calls = append(m.calls, c)
	return nil
}

func (m *mockChannel) SendText(_ context.Context, chatID int64, text string, controls *model.ReactionSummary) error {
	return m.record(call{Kind: "text", ChatID: chatID, Text: text, Controls: controls != nil})
}

func (m *mockChannel) SendPhoto(_ context.Context, chatID int64, url, caption string, controls *model.ReactionSummary) error {
	return m.record(call{Kind: "photo", ChatID: chatID, Text: caption, URLs: []string{url}, Controls: controls != nil})
}

func (m *mockChannel) SendPhotoGroup(_ context.Context, chatID int64, urls []string, caption string) error {
	return m.record(call{Kind: "group", ChatID: chatID, Text: caption, URLs: urls})
}

func (m *mockChannel) SendControls(_ context.Context, chatID int64, controls *model.ReactionSummary) error {
	return m.record(call{Kind: "controls", ChatID: chatID, Controls: controls != nil})
}

func (m *mockChannel) callsFor(chatID int64) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.calls {
		if c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out
}

type mockSubscribers struct {
	subs []model.Subscriber
	err  error
}

func (m *mockSubscribers) ListSubscribersByCategory(_ context.Context, c model.Category) ([]model.Subscriber, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Subscriber
	for _, s := range m.subs {
		if s.Wants(c) {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockReactions struct{}

func (mockReactions) Counts(_ context.Context, itemID, _ int64) (model.ReactionSummary, error) {
	return model.ReactionSummary{ItemID: itemID, Counts: map[model.ReactionKind]int{}}, nil
}

func newDispatcher(subs []model.Subscriber, ch *mockChannel) *Dispatcher {
	return New(&mockSubscribers{subs: subs}, ch, slog.New(slog.DiscardHandler),
		WithReactions(mockReactions{}), WithConcurrency(3))
}

func subscriber(id int64, cats ...model.Category) model.Subscriber {
	return model.Subscriber{RecipientID: id, Categories: cats}
}

func images(n int) []string {
	var out []string
	for i := range n {
		out = append(out, "https://example.org/img/"+string(rune('a'+i))+".jpg")
	}
	return out
}

func TestDispatchPartialFailure(t *testing.T) {
	var subs []model.Subscriber
	for id := int64(1); id <= 5; id++ {
		subs = append(subs, subscriber(id, model.CategoryWater))
	}
	ch := &mockChannel{fail: map[int64]bool{2: true, 4: true}}

	res, err := newDispatcher(subs, ch).Dispatch(context.Background(), Notification{Text: "x", Category: model.CategoryWater, ItemID: 1})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff(Result{Sent: 3, Total: 5}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchRecipients(t *testing.T) {
	subs := []model.Subscriber{
		subscriber(1, model.CategoryWater),
		subscriber(2, model.CategoryPower),
		subscriber(3, model.CategoryAll),
		subscriber(4),
	}
	ch := &mockChannel{}

	res, err := newDispatcher(subs, ch).Dispatch(context.Background(), Notification{Text: "x", Category: model.CategoryWater})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff(Result{Sent: 2, Total: 2}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	var got []int64
	for _, c := range ch.calls {
		got = append(got, c.ChatID)
	}
	slices.Sort(got)
	if diff := cmp.Diff([]int64{1, 3}, got); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchResolveError(t *testing.T) {
	d := New(&mockSubscribers{err: errors.New("db down")}, &mockChannel{}, slog.New(slog.DiscardHandler))
	if _, err := d.Dispatch(context.Background(), Notification{Category: model.CategoryOther}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestDispatchPackaging(t *testing.T) {
	long := strings.Repeat("я", CaptionLimit+1)

	tests := []struct {
		name string
		n    Notification
		want []call
	}{
		{
			name: "text only",
			n:    Notification{Text: "Новость", ItemID: 7},
			want: []call{{Kind: "text", ChatID: 1, Text: "Новость", Controls: true}},
		},
		{
			name: "text without item has no controls",
			n:    Notification{Text: "Новость"},
			want: []call{{Kind: "text", ChatID: 1, Text: "Новость"}},
		},
		{
			name: "single photo with caption",
			n:    Notification{Text: "Новость", Images: images(1), ItemID: 7},
			want: []call{{Kind: "photo", ChatID: 1, Text: "Новость", URLs: images(1), Controls: true}},
		},
		{
			name: "single photo with long caption",
			n:    Notification{Text: long, Images: images(1), ItemID: 7},
			want: []call{
				{Kind: "photo", ChatID: 1, URLs: images(1)},
				{Kind: "text", ChatID: 1, Text: long, Controls: true},
			},
		},
		{
			name: "media group then controls",
			n:    Notification{Text: "Новость", Images: images(3), ItemID: 7},
			want: []call{
				{Kind: "group", ChatID: 1, Text: "Новость", URLs: images(3)},
				{Kind: "controls", ChatID: 1, Controls: true},
			},
		},
		{
			name: "media group without item",
			n:    Notification{Text: "Новость", Images: images(2)},
			want: []call{{Kind: "group", ChatID: 1, Text: "Новость", URLs: images(2)}},
		},
		{
			name: "media group chunks with single remainder",
			n:    Notification{Text: "Новость", Images: images(11), ItemID: 7},
			want: []call{
				{Kind: "group", ChatID: 1, Text: "Новость", URLs: images(11)[:10]},
				{Kind: "photo", ChatID: 1, URLs: images(11)[10:]},
				{Kind: "controls", ChatID: 1, Controls: true},
			},
		},
		{
			name: "media group with long caption",
			n:    Notification{Text: long, Images: images(2), ItemID: 7},
			want: []call{
				{Kind: "group", ChatID: 1, URLs: images(2)},
				{Kind: "text", ChatID: 1, Text: long, Controls: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &mockChannel{}
			tt.n.Category = model.CategoryOther
			res, err := newDispatcher([]model.Subscriber{subscriber(1, model.CategoryOther)}, ch).Dispatch(context.Background(), tt.n)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if diff := cmp.Diff(Result{Sent: 1, Total: 1}, res); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, ch.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatchRelevanceBanner(t *testing.T) {
	subs := []model.Subscriber{
		{RecipientID: 1, Categories: []model.Category{model.CategoryWater}, Address: "Советская, 15"},
		{RecipientID: 2, Categories: []model.Category{model.CategoryWater}, Address: "Ленина, 3"},
		{RecipientID: 3, Categories: []model.Category{model.CategoryWater}},
		{RecipientID: 4, Categories: []model.Category{model.CategoryWater}, Address: "Советская, 10"},
		{RecipientID: 5, Categories: []model.Category{model.CategoryWater}, Address: "Советская, 5"},
	}
	ch := &mockChannel{}
	text := "Отключение воды по ул. Советская, 12-20 с 08.00-17.00\n\n📎 Новость на оф.сайте: https://nerehta-adm.ru/news/view/10"

	if _, err := newDispatcher(subs, ch).Dispatch(context.Background(), Notification{Text: text, Category: model.CategoryWater}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	tests := []struct {
		chatID int64
		want   string
	}{
		{chatID: 1, want: RelevanceBanner + text},
		{chatID: 2, want: text},
		{chatID: 3, want: text},
		{chatID: 4, want: text},
		{chatID: 5, want: text},
	}
	for _, tt := range tests {
		calls := ch.callsFor(tt.chatID)
		if len(calls) != 1 {
			t.Fatalf("chat %d: calls = %d, want 1", tt.chatID, len(calls))
		}
		if diff := cmp.Diff(tt.want, calls[0].Text); diff != "" {
			t.Errorf("chat %d mismatch (-want +got):\n%s", tt.chatID, diff)
		}
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		n    int
		want []int
	}{
		{n: 0, want: nil},
		{n: 3, want: []int{3}},
		{n: 10, want: []int{10}},
		{n: 21, want: []int{10, 10, 1}},
	}
	for _, tt := range tests {
		var sizes []int
		for _, c := range Chunk(images(tt.n), 10) {
			sizes = append(sizes, len(c))
		}
		if diff := cmp.Diff(tt.want, sizes); diff != "" {
			t.Errorf("n=%d mismatch (-want +got):\n%s", tt.n, diff)
		}
	}
}
