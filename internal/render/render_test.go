package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailform/internal/markup"
)

const doc = `<mjml>
  <mj-head>
    <mj-title>Welcome aboard</mj-title>
    <mj-preview>Your account is ready</mj-preview>
  </mj-head>
  <mj-body>
    <!-- internal note -->
    <mj-section>
      <mj-column>
        <mj-text>Hello Alice</mj-text>
        <mj-social>
          <mj-social-element name="facebook-noshare" href="https://facebook.com/acme">Facebook</mj-social-element>
          <mj-social-element name="github" src="https://cdn.example.com/gh.png" href="https://github.com/acme">GitHub</mj-social-element>
        </mj-social>
      </mj-column>
    </mj-section>
  </mj-body>
</mjml>`

func parse(t *testing.T, text string) *markup.Tree {
	t.Helper()
	tree, err := markup.NewParser(nil).Parse(context.Background(), text)
	require.NoError(t, err)
	return tree
}

func TestRender(t *testing.T) {
	t.Parallel()

	out, err := New(Options{}).Render(context.Background(), parse(t, doc))
	require.NoError(t, err)

	assert.Equal(t, "Welcome aboard", out.Title)
	assert.Equal(t, "Your account is ready", out.Preview)
	assert.Contains(t, out.HTML, "<!doctype html>")
	assert.Contains(t, out.HTML, "Hello Alice")
}

func TestRender_NoHead(t *testing.T) {
	t.Parallel()

	out, err := New(Options{}).Render(context.Background(),
		parse(t, `<mjml><mj-body><mj-section><mj-column><mj-text>Hi</mj-text></mj-column></mj-section></mj-body></mjml>`))
	require.NoError(t, err)

	assert.Empty(t, out.Title)
	assert.Empty(t, out.Preview)
	assert.Contains(t, out.HTML, "Hi")
}

func TestRender_DisableComments(t *testing.T) {
	t.Parallel()

	out, err := New(Options{DisableComments: true}).Render(context.Background(), parse(t, doc))
	require.NoError(t, err)
	assert.NotContains(t, out.HTML, "internal note")
}

func TestRewriteSocialIcons(t *testing.T) {
	t.Parallel()

	tree := parse(t, doc)
	rewriteSocialIcons(tree, "https://icons.example.com/")

	var srcs []string
	tree.Root.Walk(func(e *markup.Element) {
		if e.Name == "mj-social-element" {
			src, _ := e.Attr("src")
			srcs = append(srcs, src)
		}
	})
	assert.Equal(t, []string{
		"https://icons.example.com/facebook.png",
		"https://cdn.example.com/gh.png",
	}, srcs)
}

func TestRender_SocialIconOrigin(t *testing.T) {
	t.Parallel()

	out, err := New(Options{SocialIconOrigin: "https://icons.example.com/"}).Render(context.Background(), parse(t, doc))
	require.NoError(t, err)
	assert.Contains(t, out.HTML, "https://icons.example.com/facebook.png")
}

func TestRender_Fonts(t *testing.T) {
	t.Parallel()

	const fontDoc = `<mjml>
  <mj-body>
    <mj-section>
      <mj-column>
        <mj-text font-family="Roboto, Custom, Arial">Hello</mj-text>
      </mj-column>
    </mj-section>
  </mj-body>
</mjml>`

	tests := []struct {
		name        string
		fonts       map[string]string
		contains    []string
		notContains []string
	}{
		{
			name:     "defaults",
			contains: []string{"fonts.googleapis.com/css?family=Roboto"},
		},
		{
			name:        "custom set replaces defaults",
			fonts:       map[string]string{"Custom": "https://fonts.example.com/custom.css"},
			contains:    []string{"https://fonts.example.com/custom.css"},
			notContains: []string{"fonts.googleapis.com/css?family=Roboto"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := New(Options{Fonts: tt.fonts}).Render(context.Background(), parse(t, fontDoc))
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out.HTML, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, out.HTML, s)
			}
		})
	}
}
