package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var monthDirPattern = regexp.MustCompile(`^\d{4}-\d{2}/$`)

type link struct {
	href string
	text string
}

// Discoverer resolves the latest monthly directory of the upstream HTML index
// and lists the archives it contains.
type Discoverer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewDiscoverer(baseURL string, client *http.Client, logger *zap.Logger) *Discoverer {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Discoverer{baseURL: baseURL, client: client, logger: logger.Named("discoverer")}
}

func (d *Discoverer) Discover(ctx context.Context) ([]domain.Archive, error) {
	archives, err := d.discover(ctx)
	if err != nil {
		d.logger.Warn("archive discovery failed", zap.String("base_url", d.baseURL), zap.Error(err))
		return nil, domain.NewPipelineError(domain.KindTransientNetwork, "discover archives", err)
	}
	return archives, nil
}

func (d *Discoverer) discover(ctx context.Context) ([]domain.Archive, error) {
	base, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	rootLinks, err := d.fetchLinks(ctx, base.String())
	if err != nil {
		return nil, err
	}

	latest := ""
	for _, l := range rootLinks {
		if monthDirPattern.MatchString(l.text) && l.text > latest {
			latest = l.text
		}
	}
	if latest == "" {
		return nil, fmt.Errorf("no monthly directory found at %s", base)
	}

	monthURL := base.ResolveReference(&url.URL{Path: latest})
	d.logger.Info("latest monthly directory resolved", zap.String("directory", latest), zap.String("url", monthURL.String()))

	monthLinks, err := d.fetchLinks(ctx, monthURL.String())
	if err != nil {
		return nil, err
	}

	archives := make([]domain.Archive, 0, len(monthLinks))
	seen := make(map[string]bool)
	for _, l := range monthLinks {
		if !strings.HasSuffix(strings.ToLower(l.href), ".zip") {
			continue
		}
		ref, err := url.Parse(l.href)
		if err != nil {
			d.logger.Debug("skipping unparsable link", zap.String("href", l.href), zap.Error(err))
			continue
		}
		resolved := monthURL.ResolveReference(ref)
		name := path.Base(resolved.Path)
		if seen[name] {
			continue
		}
		seen[name] = true

		class := domain.Classify(name)
		if class == domain.ClassUnclassified {
			d.logger.Debug("ignoring unclassified archive", zap.String("name", name))
			continue
		}
		archives = append(archives, domain.Archive{
			Name:           name,
			URL:            resolved.String(),
			Classification: class,
		})
	}
	return archives, nil
}

func (d *Discoverer) fetchLinks(ctx context.Context, pageURL string) ([]link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status code: %d", pageURL, resp.StatusCode)
	}

	links, err := parseLinks(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index %s: %w", pageURL, err)
	}
	return links, nil
}

// parseLinks collects every anchor of an HTML document with its text.
func parseLinks(r io.Reader) ([]link, error) {
	tokenizer := html.NewTokenizer(r)
	var (
		links   []link
		current *link
		text    strings.Builder
	)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return nil, err
			}
			return links, nil
		case html.StartTagToken:
			tok := tokenizer.Token()
			if tok.Data != "a" {
				continue
			}
			current = &link{}
			text.Reset()
			for _, attr := range tok.Attr {
				if attr.Key == "href" {
					current.href = attr.Val
				}
			}
		case html.TextToken:
			if current != nil {
				text.Write(tokenizer.Text())
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "a" && current != nil {
				current.text = strings.TrimSpace(text.String())
				links = append(links, *current)
				current = nil
			}
		}
	}
}
