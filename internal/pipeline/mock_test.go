package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/menu-extractor/internal/fanout"
	"github.com/sells-group/menu-extractor/internal/gateway"
	"github.com/sells-group/menu-extractor/internal/model"
	"github.com/sells-group/menu-extractor/internal/prompt"
	"github.com/sells-group/menu-extractor/internal/schema"
)

// --- Renderer Mock ---

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) RenderPages(ctx context.Context, pdf []byte) ([]model.PageImage, error) {
	args := m.Called(ctx, pdf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PageImage), args.Error(1)
}

func testPages(n int) []model.PageImage {
	pages := make([]model.PageImage, n)
	for i := range pages {
		pages[i] = model.PageImage{PageNumber: i + 1, PNG: []byte(fmt.Sprintf("png-%d", i+1))}
	}
	return pages
}

// --- Instrumented gateway ---

// call records one gateway invocation.
type call struct {
	Schema   string
	Page     int
	Category string
	Prompt   string
}

// fakeGateway answers by schema name and counts peak concurrency. respond
// may be replaced to inject failures; it receives the category parsed from
// the prompt.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []call
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	respond  func(c call) (string, error)
}

var firstName = regexp.MustCompile(`"name_raw": "([^"]*)"`)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{respond: defaultResponse}
}

func (f *fakeGateway) Invoke(ctx context.Context, req gateway.Request) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	c := call{Schema: req.Schema.Name, Page: req.Image.PageNumber, Prompt: req.Prompt}
	if m := firstName.FindStringSubmatch(req.Prompt); m != nil {
		c.Category = m[1]
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.respond(c)
}

func (f *fakeGateway) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeGateway) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// defaultResponse produces a two-page menu: "Appetizers" on page 1 and
// "Entrees" with subcategory "Pasta" on page 2.
func defaultResponse(c call) (string, error) {
	switch c.Schema {
	case "Categories":
		if c.Page == 1 {
			return `{"categories":[{"name_raw":"Appetizers","subcategories":[]}]}`, nil
		}
		return `{"categories":[{"name_raw":"Entrees","subcategories":[{"name_raw":"Pasta"}]}]}`, nil
	case "CategoryWithItems":
		return fmt.Sprintf(`{"name_raw":%q,"category_items":[{"items":[{"name_raw":"House %s","description_raw":null,"variations":[{"name_raw":"Large","price":{"amount":12.5,"currency":"USD"},"size":null}],"base_price":null,"size":null}],"description_raw":null}],"subcategory_items":[],"note":null}`, c.Category, c.Category), nil
	case "CategoryBase":
		return fmt.Sprintf(`{"name_raw":%q,"base_options":[{"name_raw":"Regular","price":null,"default":true,"price_by_variation":null}],"subcategories_base":[]}`, c.Category), nil
	case "CategoryItemAddons":
		return fmt.Sprintf(`{"name_raw":%q,"items_addons":[{"name_raw":"House %s","addons":[{"name_raw":"Extra cheese","default":false,"price":{"amount":1.5,"currency":null},"price_by_variation":null}]}],"subcategory_items":[]}`, c.Category, c.Category), nil
	}
	return "", fmt.Errorf("unexpected schema %s", c.Schema)
}

func newTestRunner(t *testing.T, gw gateway.Gateway, limit int, mode schema.Mode) *Runner {
	t.Helper()
	exec, err := fanout.New(limit)
	require.NoError(t, err)
	reg, err := schema.NewRegistry(mode)
	require.NoError(t, err)
	prompts, err := prompt.New()
	require.NoError(t, err)
	return NewRunner(gw, exec, reg, prompts)
}
