package webprov

import "context"

// By tells a Session how to interpret a Selector expression.
type By int

const (
	// ByQuery is a CSS selector.
	ByQuery By = iota
	// ByXPath is an XPath expression.
	ByXPath
)

// Selector addresses one element of the device web UI.
type Selector struct {
	Expr string
	By   By
}

// CSS returns a CSS selector.
func CSS(expr string) Selector { return Selector{Expr: expr, By: ByQuery} }

// XPath returns an XPath selector.
func XPath(expr string) Selector { return Selector{Expr: expr, By: ByXPath} }

func (s Selector) String() string { return s.Expr }

// Session is one browser tab. Every call is bounded by ctx; Close releases the
// browser and is safe to call more than once.
type Session interface {
	Navigate(ctx context.Context, url string) error
	ReadyState(ctx context.Context) (string, error)
	// AwaitElement blocks until sel is present in the page or ctx ends.
	AwaitElement(ctx context.Context, sel Selector) error
	Clear(ctx context.Context, sel Selector) error
	SendKeys(ctx context.Context, sel Selector, text string) error
	Click(ctx context.Context, sel Selector) error
	SetUploadFile(ctx context.Context, sel Selector, path string) error
	BodyText(ctx context.Context) (string, error)
	Close() error
}

// Launcher starts a browser session. The session must not outlive ctx.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
