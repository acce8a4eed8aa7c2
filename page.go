package micvis

import (
	"context"
	"sync"

	"libdb.so/micvis/internal/visualizer"
)

// Headings shown by the page.
const (
	StartHeading     = "CLICK HERE TO START"
	ListeningHeading = "Listening ..."
)

// EventKind is the kind of a user input event.
type EventKind uint8

const (
	// BackgroundClick is a click anywhere outside the mute control.
	BackgroundClick EventKind = iota
	// MuteClick is a click on the mute control.
	MuteClick
	// Quit asks the session to end.
	Quit
)

func (k EventKind) String() string {
	switch k {
	case BackgroundClick:
		return "background-click"
	case MuteClick:
		return "mute-click"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Event is a user input event.
type Event struct {
	Kind EventKind
}

// Page is the user facing side of a session: a heading, a mute control and a
// drawing surface.
type Page interface {
	// SetHeading replaces the heading text.
	SetHeading(text string)
	// SetMuteLabel replaces the mute control's label.
	SetMuteLabel(text string)
	// Surface returns the drawing surface. Its size is fixed when the page
	// is created.
	Surface() visualizer.Surface
	// Events returns the stream of user input.
	Events() <-chan Event
	// Run pumps input until ctx is canceled.
	Run(ctx context.Context) error
}

// HeadlessPage is a Page backed by an offscreen image. Input is injected
// with Click.
type HeadlessPage struct {
	surface *visualizer.ImageSurface
	events  chan Event

	mu        sync.Mutex
	heading   string
	muteLabel string
}

var _ Page = (*HeadlessPage)(nil)

// NewHeadlessPage creates a page with a surface of the given size.
func NewHeadlessPage(width, height int) *HeadlessPage {
	return &HeadlessPage{
		surface: visualizer.NewImageSurface(width, height),
		events:  make(chan Event, 16),
	}
}

// Click injects an input event. It blocks if the session is not reading
// events fast enough.
func (p *HeadlessPage) Click(kind EventKind) {
	p.events <- Event{Kind: kind}
}

// Heading returns the current heading.
func (p *HeadlessPage) Heading() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heading
}

// MuteLabel returns the current mute control label.
func (p *HeadlessPage) MuteLabel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muteLabel
}

// Image returns the offscreen surface.
func (p *HeadlessPage) Image() *visualizer.ImageSurface {
	return p.surface
}

func (p *HeadlessPage) SetHeading(text string) {
	p.mu.Lock()
	p.heading = text
	p.mu.Unlock()
}

func (p *HeadlessPage) SetMuteLabel(text string) {
	p.mu.Lock()
	p.muteLabel = text
	p.mu.Unlock()
}

func (p *HeadlessPage) Surface() visualizer.Surface { return p.surface }
func (p *HeadlessPage) Events() <-chan Event        { return p.events }

func (p *HeadlessPage) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
