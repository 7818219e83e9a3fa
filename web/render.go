package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/udisondev/peerview/node"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer turns node views into HTML. Every list renders in the order of its
// Keyed input, so the same input always yields the same markup.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Peers(w io.Writer, peers node.Keyed[string]) error {
	return r.execute(w, "peers", peers)
}

func (r *Renderer) Contacts(w io.Writer, contacts node.Keyed[string]) error {
	return r.execute(w, "contacts", contacts)
}

// ContactSelect renders the peer chooser of the download form
func (r *Renderer) ContactSelect(w io.Writer, contacts node.Keyed[string]) error {
	return r.execute(w, "contactSelect", contacts)
}

func (r *Renderer) Rumors(w io.Writer, rumors node.Keyed[node.RumorMessage]) error {
	return r.execute(w, "messages", rumors)
}

func (r *Renderer) Private(w io.Writer, thread node.Keyed[node.PrivateMessage]) error {
	return r.execute(w, "private", thread)
}

func (r *Renderer) Confirmed(w io.Writer, confirmed node.Keyed[node.ConfirmedRumor]) error {
	return r.execute(w, "confirmed", confirmed)
}

// SearchResults renders every match with a form downloading it
func (r *Renderer) SearchResults(w io.Writer, results node.Keyed[string]) error {
	return r.execute(w, "search", results)
}

func (r *Renderer) Index(w io.Writer, data IndexPage) error {
	return r.execute(w, "index", data)
}

func (r *Renderer) PrivatePage(w io.Writer, data PrivatePage) error {
	return r.execute(w, "privatePage", data)
}

// execute renders into a buffer first so a template error never leaves a
// half written response
func (r *Renderer) execute(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
