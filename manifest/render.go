package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// RegistryBase is the public registry the attribution links point to.
	RegistryBase = "https://www.npmjs.com/package/"
	// Separator joins attribution fragments.
	Separator = ", "
)

// Label returns the visible text of the record's fragment.
func (r Record) Label() string {
	return fmt.Sprintf("%s %s (%s)", r.Name, r.Version, r.License)
}

// RegistryURL returns the registry page for this exact name and version.
func (r Record) RegistryURL() string {
	return RegistryBase + r.Name + "/v/" + url.PathEscape(r.Version)
}

// Fragment renders the record as a single anchor element.
func (r Record) Fragment() (string, error) {
	a := &html.Node{
		Type:     html.ElementNode,
		Data:     atom.A.String(),
		DataAtom: atom.A,
		Attr:     []html.Attribute{{Key: "href", Val: r.RegistryURL()}},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: r.Label()})

	var b strings.Builder
	if err := html.Render(&b, a); err != nil {
		return "", fmt.Errorf("render %s: %w", r.Name, err)
	}
	return b.String(), nil
}

// RenderHTML renders every record as an anchor and joins them with
// Separator. No records gives the empty string.
func RenderHTML(records []Record) (string, error) {
	fragments := make([]string, 0, len(records))
	for _, rec := range records {
		frag, err := rec.Fragment()
		if err != nil {
			return "", err
		}
		fragments = append(fragments, frag)
	}
	return strings.Join(fragments, Separator), nil
}

// RenderMarkdown renders the attribution as Markdown links.
func RenderMarkdown(records []Record) (string, error) {
	markup, err := RenderHTML(records)
	if err != nil {
		return "", err
	}
	if markup == "" {
		return "", nil
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	out, err := converter.ConvertString("<p>" + markup + "</p>")
	if err != nil {
		return "", fmt.Errorf("convert attribution to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RenderJSON renders the records as an indented JSON array.
func RenderJSON(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	return string(data), nil
}
