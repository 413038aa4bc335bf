package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const RenderToolName = "get_rendered_html"

// Renderer returns the HTML of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// ChromeRenderer drives a headless Chrome through chromedp.
type ChromeRenderer struct {
	ExecPath string
	Timeout  time.Duration
	Settle   time.Duration
}

func (r ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox, chromedp.DisableGPU)
	if r.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	browserCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	settle := r.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}
	var out string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &out, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp: %w", err)
	}
	return out, nil
}

// HTTPRenderer fetches the page without running scripts.
type HTTPRenderer struct {
	Client *http.Client
}

func (r HTTPRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	b, err := fetch(ctx, r.Client, pageURL, 10<<20)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type Image struct {
	Src    string `json:"src"`
	Base64 string `json:"base64"`
}

type Page struct {
	HTML   string  `json:"html"`
	Images []Image `json:"images"`
	URL    string  `json:"url"`
	Error  string  `json:"error,omitempty"`
}

// PageTool renders pages and attaches the images they reference.
type PageTool struct {
	Renderer      Renderer
	Client        *http.Client
	MaxImageBytes int64
}

func (p *PageTool) Fetch(ctx context.Context, pageURL string) Page {
	l := log.With().Str("url", pageURL).Logger()
	l.Info().Msg("rendering page")

	doc, err := p.Renderer.Render(ctx, pageURL)
	if err != nil {
		l.Error().Err(err).Msg("render failed")
		return Page{URL: pageURL, Images: []Image{}, Error: err.Error()}
	}

	page := Page{HTML: doc, URL: pageURL, Images: []Image{}}
	for _, src := range imageSources(doc, pageURL) {
		b, err := fetch(ctx, p.Client, src, p.MaxImageBytes)
		if err != nil {
			l.Warn().Err(err).Str("src", src).Msg("skipping image")
			continue
		}
		page.Images = append(page.Images, Image{Src: src, Base64: base64.StdEncoding.EncodeToString(b)})
	}
	l.Info().Int("html_bytes", len(doc)).Int("images", len(page.Images)).Msg("page rendered")
	return page
}

func (p *PageTool) Tool() *Tool {
	return &Tool{
		Name:        RenderToolName,
		Description: "Fetch a page with a headless browser after JavaScript runs. Returns html, the page's images as base64, and url.",
		Parameters: objectSchema([]string{"url"}, map[string]any{
			"url": prop("string", "the page URL"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			u, err := stringArg(args, "url")
			if err != nil {
				return nil, err
			}
			return p.Fetch(ctx, u), nil
		},
	}
}

// imageSources lists the absolute http(s) URLs of every <img src> in doc.
func imageSources(doc, pageURL string) []string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	var out []string
	seen := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			for _, a := range n.Attr {
				if a.Key != "src" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(a.Val))
				if err != nil {
					continue
				}
				if base != nil {
					ref = base.ResolveReference(ref)
				}
				if (ref.Scheme == "http" || ref.Scheme == "https") && !seen[ref.String()] {
					seen[ref.String()] = true
					out = append(out, ref.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// fetch GETs target and returns at most limit bytes of a 2xx body. A
// non-positive limit means no cap.
func fetch(ctx context.Context, client *http.Client, target string, limit int64) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: HTTP %d", target, resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", target, limit)
	}
	return b, nil
}
