package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"tg-news-relay/internal/domain"
	"tg-news-relay/internal/infra/metrics"
)

// ErrArticleTooShort возвращается, когда извлечённый текст короче минимума:
// такие страницы обычно пэйволы, заглушки или ошибки разметки.
var ErrArticleTooShort = errors.New("статья слишком короткая или пустая")

const (
	defaultMinTextLength = 100
	defaultFetchTimeout  = 20 * time.Second
	userAgent            = "Mozilla/5.0 (compatible; tg-news-relay/1.0)"
)

// HTMLFetcher извлекает заголовок и текст статьи из HTML-страницы.
type HTMLFetcher struct {
	client  *http.Client
	minText int
	timeout time.Duration
}

var _ domain.ArticleFetcher = (*HTMLFetcher)(nil)

// New создаёт fetcher; client по умолчанию имеет таймаут 20 секунд.
func New(client *http.Client) *HTMLFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTMLFetcher{client: client, minText: defaultMinTextLength, timeout: defaultFetchTimeout}
}

// Fetch загружает страницу и извлекает контент статьи. Дедлайн на
// загрузку ставится здесь, а не только в клиенте: зависший сервер не
// должен останавливать цикл обработки независимо от того, какой
// http.Client передали в New.
func (f *HTMLFetcher) Fetch(ctx context.Context, url string) (domain.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Article{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("fetcher", "article_get", hostOf(url), start, err)
		return domain.Article{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
		metrics.ObserveNetworkRequest("fetcher", "article_get", hostOf(url), start, err)
		return domain.Article{}, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	metrics.ObserveNetworkRequest("fetcher", "article_get", hostOf(url), start, err)
	if err != nil {
		return domain.Article{}, fmt.Errorf("parse %s: %w", url, err)
	}

	article := domain.Article{
		URL:   url,
		Title: extractTitle(doc),
		Text:  extractText(doc),
	}
	if err := f.validate(article); err != nil {
		return domain.Article{}, err
	}
	return article, nil
}

func (f *HTMLFetcher) validate(article domain.Article) error {
	if article.Title == "" {
		return fmt.Errorf("%s: статья без заголовка: %w", article.URL, ErrArticleTooShort)
	}
	if len([]rune(article.Text)) < f.minText {
		return fmt.Errorf("%s: %w", article.URL, ErrArticleTooShort)
	}
	return nil
}

// extractTitle пробует og:title, затем <title>, затем первый <h1>.
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if title := strings.TrimSpace(og); title != "" {
			return title
		}
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// extractText собирает абзацы из <article>, если он есть, иначе со всей страницы.
func extractText(doc *goquery.Document) string {
	root := doc.Selection
	if article := doc.Find("article").First(); article.Length() > 0 {
		root = article
	}
	var parts []string
	root.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexByte(trimmed, '/'); idx > 0 {
		return trimmed[:idx]
	}
	return trimmed
}
