package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoEngine is returned when a Browser produced neither an engine handle
// nor a persistent context.
var ErrNoEngine = errors.New("browser has no engine handle")

// Context is a browsing context on a Browser. It resolves the engine lazily
// on first use and keeps one current page.
type Context struct {
	// ID identifies the context in logs.
	ID string

	browser    *Browser
	cfg        ContextConfig
	pages      PageContext
	persistent bool
	page       Page
}

func newContext(b *Browser, cfg ContextConfig) *Context {
	return &Context{
		ID:      uuid.NewString(),
		browser: b,
		cfg:     cfg,
	}
}

// Config returns the context configuration.
func (c *Context) Config() ContextConfig {
	return c.cfg
}

// Page returns the current page. The first call initializes the Browser if
// needed, uses its persistent context when there is one, and otherwise
// opens a new context on the engine. An existing tab is reused before a new
// one is opened.
func (c *Context) Page(ctx context.Context) (Page, error) {
	if c.page != nil {
		return c.page, nil
	}
	if c.pages == nil {
		if err := c.open(ctx); err != nil {
			return nil, err
		}
	}

	if pages := c.pages.Pages(); len(pages) > 0 {
		c.page = pages[0]
		return c.page, nil
	}
	page, err := c.pages.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	c.page = page
	return page, nil
}

func (c *Context) open(ctx context.Context) error {
	persistent, err := c.browser.PersistentContext(ctx)
	if err != nil {
		return err
	}
	if persistent != nil {
		c.pages = persistent
		c.persistent = true
		return nil
	}

	handle, err := c.browser.EngineHandle(ctx)
	if err != nil {
		return err
	}
	if handle == nil {
		return ErrNoEngine
	}
	pages, err := handle.NewContext(c.cfg)
	if err != nil {
		return err
	}
	c.pages = pages
	return nil
}

// Navigate loads url in the current page using the context timeout.
func (c *Context) Navigate(ctx context.Context, url string) error {
	page, err := c.Page(ctx)
	if err != nil {
		return err
	}
	return page.Goto(url, c.cfg.Timeout)
}

// CurrentURL returns the current page URL, or "" before the first page.
func (c *Context) CurrentURL() string {
	if c.page == nil {
		return ""
	}
	return c.page.URL()
}

// Title returns the current page title.
func (c *Context) Title(ctx context.Context) (string, error) {
	page, err := c.Page(ctx)
	if err != nil {
		return "", err
	}
	return page.Title()
}

// Close closes a context this facade opened. A persistent context belongs
// to the Browser and is left open.
func (c *Context) Close() error {
	pages, persistent := c.pages, c.persistent
	c.pages, c.page, c.persistent = nil, nil, false

	if pages == nil || persistent {
		return nil
	}
	return pages.Close()
}
