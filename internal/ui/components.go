package ui

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// Link is a single child entry of a collection index.
type Link struct {
	Href       string
	Name       string
	Collection bool
	Size       int64
	Modified   string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head><body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// CollectionPage renders the index of a collection. parent is the href of
// the parent collection, or empty at the root.
func CollectionPage(path string, parent string, links []Link) templ.Component {
	title := "Index of " + path
	return Layout(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>"+html.EscapeString(title)+"</h1>")
		if err != nil {
			return err
		}

		if parent != "" {
			back := fmt.Sprintf("<p><a href=\"%s\">&larr; Parent directory</a></p>", html.EscapeString(parent))
			_, err = io.WriteString(w, back)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</header>")
		if err != nil {
			return err
		}

		if len(links) == 0 {
			_, err = io.WriteString(w, "<p>This collection is empty.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Name</th><th>Size (bytes)</th><th>Last Modified</th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, l := range links {
			name := html.EscapeString(l.Name)
			size := fmt.Sprintf("%d", l.Size)
			if l.Collection {
				name += "/"
				size = "-"
			}

			row := fmt.Sprintf("<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td></tr>", html.EscapeString(l.Href), name, size, html.EscapeString(l.Modified))
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}
